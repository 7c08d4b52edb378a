package kiln

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ghetzel/go-stockutil/log"
)

// An Instance holds everything the servers of one configuration share: the settings, the
// registered modules and connector types, the page renderer and the access log.
type Instance struct {
	// file the settings are (re)loaded from; empty keeps the settings given at construction
	ConfigFile string

	Modules *ModuleRegistry

	// access log sink for servers without an access log file
	AccessLog io.Writer

	settings   *Settings
	connectors map[string]ConnectorFactory
	running    []Connector
	renderer   *Renderer
	started    time.Time
	stopped    chan struct{}
	stopOnce   sync.Once
	lock       sync.RWMutex
	runLock    sync.Mutex
	logLock    sync.Mutex
}

// NewInstance creates an instance with the given settings (merged over the built-in
// defaults) and the built-in "http" and "remote" connectors.
func NewInstance(settings *Settings) *Instance {
	var instance = &Instance{
		Modules:    NewModuleRegistry(),
		AccessLog:  os.Stdout,
		settings:   DefaultSettings().Merge(settings),
		connectors: make(map[string]ConnectorFactory),
		renderer:   NewRenderer(),
		stopped:    make(chan struct{}),
	}

	instance.RegisterConnector(`http`, func(instance *Instance, name string) (Connector, error) {
		return NewServer(instance, name)
	})

	instance.RegisterConnector(`remote`, func(instance *Instance, name string) (Connector, error) {
		return NewRemote(instance, name)
	})

	return instance
}

// LoadInstance creates an instance from a configuration file.
func LoadInstance(filename string) (*Instance, error) {
	if settings, err := LoadSettings(filename); err == nil {
		var instance = NewInstance(settings)

		instance.ConfigFile = filename
		return instance, nil
	} else {
		return nil, err
	}
}

// RegisterConnector makes a server type available to the "type" option of "bas" sections.
func (self *Instance) RegisterConnector(kind string, factory ConnectorFactory) {
	self.lock.Lock()
	defer self.lock.Unlock()

	self.connectors[strings.ToLower(kind)] = factory
}

func (self *Instance) Settings() *Settings {
	self.lock.RLock()
	defer self.lock.RUnlock()

	return self.settings
}

func (self *Instance) SetSettings(settings *Settings) {
	self.lock.Lock()
	defer self.lock.Unlock()

	self.settings = DefaultSettings().Merge(settings)
}

// Servers returns the connectors that are currently running.
func (self *Instance) Servers() []Connector {
	self.runLock.Lock()
	defer self.runLock.Unlock()

	return append([]Connector(nil), self.running...)
}

// Start creates and runs every server declared by a "server:<name>:bas" section. A server
// that cannot be created is logged and skipped.
func (self *Instance) Start() error {
	self.runLock.Lock()
	defer self.runLock.Unlock()

	select {
	case <-self.stopped:
		return fmt.Errorf("instance stopped")
	default:
	}

	self.started = time.Now()

	var settings = self.Settings()
	var names = settings.ServerNames()

	for _, name := range names {
		var kind = strings.ToLower(CleanOptions(settings.Get(`server:` + name + `:bas`).Get(`type`, `http`)))

		self.lock.RLock()
		var factory, ok = self.connectors[kind]
		self.lock.RUnlock()

		if !ok {
			log.Errorf("SERVER %s: unknown server type %q", name, kind)
			continue
		}

		if connector, err := factory(self, name); err == nil {
			self.running = append(self.running, connector)

			go func(connector Connector) {
				if err := connector.Run(); err != nil {
					log.Errorf("SERVER %s: %v", connector.Caption(), err)
				}
			}(connector)
		} else {
			log.Errorf("SERVER %s: %v", name, err)
		}
	}

	if len(names) > 0 && len(self.running) == 0 {
		return fmt.Errorf("none of the %d configured servers could be started", len(names))
	}

	return nil
}

func (self *Instance) destroyAll() error {
	self.runLock.Lock()
	var running = self.running
	self.running = nil
	self.runLock.Unlock()

	var merr error

	for _, connector := range running {
		merr = log.AppendError(merr, connector.Destroy())
	}

	return merr
}

// Restart tears all servers down, reloads the configuration file (if any) and starts the
// servers again.
func (self *Instance) Restart() error {
	if err := self.destroyAll(); err != nil {
		log.Warningf("restart: %v", err)
	}

	if self.ConfigFile != `` {
		if settings, err := LoadSettings(self.ConfigFile); err == nil {
			self.SetSettings(settings)
		} else {
			return err
		}
	}

	return self.Start()
}

// Stop tears all servers down for good.
func (self *Instance) Stop() error {
	var err = self.destroyAll()

	self.stopOnce.Do(func() {
		close(self.stopped)
	})

	return err
}

// Done is closed once the instance is stopped.
func (self *Instance) Done() <-chan struct{} {
	return self.stopped
}

// Details describes the running instance, one "KEY: value" line per item.
func (self *Instance) Details() string {
	var lines = []string{
		fmt.Sprintf("VERS: %s", ServerSoftware),
		fmt.Sprintf("TIME: %s", time.Now().Format(time.RFC1123Z)),
		fmt.Sprintf("TIUP: %s", strings.TrimSuffix(humanize.Time(self.startedAt()), ` ago`)),
	}

	for _, name := range self.Modules.Names() {
		lines = append(lines, `XAPI: `+name)
	}

	for _, connector := range self.Servers() {
		lines = append(lines, `SAPI: `+connector.Caption())
	}

	return strings.Join(lines, "\r\n")
}

func (self *Instance) startedAt() time.Time {
	self.runLock.Lock()
	defer self.runLock.Unlock()

	return self.started
}

// virtualContext returns the "virtual:<host>" section prefix configured for host. An exact
// name wins over glob patterns, patterns are tried in declaration order.
func (self *Instance) virtualContext(host string) string {
	var settings = self.Settings()

	if host = strings.ToLower(host); host == `` {
		return ``
	}

	var patterns []string
	var seen = make(map[string]bool)

	for _, name := range settings.Names() {
		if !strings.HasPrefix(name, `virtual:`) {
			continue
		}

		var pattern = strings.TrimPrefix(name, `virtual:`)

		if i := strings.LastIndexByte(pattern, ':'); i >= 0 {
			pattern = pattern[:i]
		}

		if pattern == host {
			return `virtual:` + pattern
		} else if pattern != `` && !seen[pattern] {
			seen[pattern] = true
			patterns = append(patterns, pattern)
		}
	}

	for _, pattern := range patterns {
		if IsGlobMatch(host, pattern) {
			return `virtual:` + pattern
		}
	}

	return ``
}

