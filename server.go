package kiln

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ghetzel/go-stockutil/log"
)

// how often the pool is inspected and resized
var PoolInterval = 25 * time.Millisecond

const DefaultPort = 80

// A Connector is anything the instance runs on its own socket: the HTTP server and the
// remote control.
type Connector interface {
	Run() error
	Destroy() error
	Caption() string
}

type ConnectorFactory func(instance *Instance, name string) (Connector, error)

type poolEntry struct {
	worker *Worker
	done   chan struct{}
}

// A Server owns a listening socket and a self-sizing pool of workers accepting on it.
type Server struct {
	instance *Instance
	name     string
	context  string
	listener net.Listener
	secure   bool
	caption  string
	maxconn  int
	entries  []*poolEntry
	growth   int
	running  bool
	closing  chan struct{}
	stopped  chan struct{}
	once     sync.Once
	lock     sync.Mutex
}

// NewServer binds the socket of the server configured in the "server:<name>" sections.
func NewServer(instance *Instance, name string) (*Server, error) {
	var server = &Server{
		instance: instance,
		name:     strings.ToLower(name),
		context:  `server:` + strings.ToLower(name),
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	var settings = instance.Settings()
	var options = settings.Get(server.context + `:ini`)

	server.maxconn = int(options.Int(`maxaccess`))

	if listener, err := listenTCP(ListenAddress(options, DefaultPort), int(options.Int(`backlog`))); err == nil {
		server.listener = listener
	} else {
		return nil, err
	}

	var protocol = `TCP`

	if ssl := settings.Get(server.context + `:ssl`); CleanOptions(ssl.Get(`certificate`)) != `` {
		if config, err := TLSConfig(ssl); err == nil {
			server.listener = &tlsListener{
				Listener: server.listener,
				config:   config,
			}

			server.secure = true
			protocol = `SSL`
		} else {
			server.listener.Close()
			return nil, fmt.Errorf("server %s: %v", name, err)
		}
	}

	server.caption = fmt.Sprintf("%s %s", protocol, server.listener.Addr())

	return server, nil
}

// ListenAddress builds host:port from the address and port options. An empty address or
// "auto" listens on all interfaces.
func ListenAddress(options *Section, port int) string {
	var address = CleanOptions(options.Get(`address`))

	if strings.EqualFold(address, `auto`) {
		address = ``
	}

	if options.Contains(`port`) {
		port = int(options.Int(`port`))
	}

	return net.JoinHostPort(address, fmt.Sprintf("%d", port))
}

// TLSConfig builds the TLS configuration of a server from its "ssl" section.
func TLSConfig(ssl *Section) (*tls.Config, error) {
	var config = &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	var certfile = CleanOptions(ssl.Get(`certificate`))
	var keyfile = CleanOptions(ssl.Get(`key`, certfile))

	if cert, err := tls.LoadX509KeyPair(certfile, keyfile); err == nil {
		config.Certificates = []tls.Certificate{cert}
	} else {
		return nil, fmt.Errorf("certificate %s: %v", certfile, err)
	}

	switch strings.ToLower(CleanOptions(ssl.Get(`clientauth`))) {
	case `on`:
		config.ClientAuth = tls.RequireAndVerifyClientCert
	case `auto`:
		config.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if cafile := CleanOptions(ssl.Get(`ca`)); cafile != `` {
		if pem, err := os.ReadFile(cafile); err == nil {
			var pool = x509.NewCertPool()

			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates in %s", cafile)
			}

			config.ClientCAs = pool
		} else {
			return nil, err
		}
	}

	return config, nil
}

func (self *Server) Caption() string {
	return self.caption
}

func (self *Server) Addr() net.Addr {
	return self.listener.Addr()
}

// PoolSize returns the number of workers currently in the pool.
func (self *Server) PoolSize() int {
	self.lock.Lock()
	defer self.lock.Unlock()

	return len(self.entries)
}

// Run starts the pool and keeps resizing it until the server is destroyed.
func (self *Server) Run() error {
	self.lock.Lock()

	select {
	case <-self.closing:
		self.lock.Unlock()
		return net.ErrClosed
	default:
		self.running = true
	}

	self.lock.Unlock()

	log.Noticef("SERVER %s READY", self.caption)

	defer func() {
		log.Noticef("SERVER %s STOPPED", self.caption)
		close(self.stopped)
	}()

	self.spawn(1)

	var ticker = time.NewTicker(PoolInterval)
	defer ticker.Stop()

	for {
		select {
		case <-self.closing:
			self.shutdown()
			return nil
		case <-ticker.C:
			self.tick()
		}
	}
}

// tick drops finished workers, retires surplus idle ones and grows the pool when no
// worker is waiting for a connection.
func (self *Server) tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("SERVER %s: %v", self.caption, r)
		}
	}()

	self.lock.Lock()

	var live, busy, retiring int
	var idle []*Worker
	var entries = self.entries[:0]

	for _, entry := range self.entries {
		select {
		case <-entry.done:
			continue
		default:
		}

		entries = append(entries, entry)

		if entry.worker.Retiring() {
			retiring++
			continue
		}

		live++

		if entry.worker.Available() {
			idle = append(idle, entry.worker)
		} else {
			busy++
		}
	}

	self.entries = entries
	self.lock.Unlock()

	var capacity = self.maxconn

	if capacity > 0 {
		if capacity -= retiring; capacity <= 0 {
			return
		}
	}

	var size, growth = NextPoolSize(live, busy, capacity, self.growth)

	self.growth = growth

	for i := 0; i < live-size && i < len(idle); i++ {
		idle[len(idle)-1-i].Isolate()
	}

	if growth > 0 {
		self.spawn(growth)
	}
}

func (self *Server) spawn(count int) {
	self.lock.Lock()
	defer self.lock.Unlock()

	for i := 0; i < count; i++ {
		var entry = &poolEntry{
			worker: NewWorker(self),
			done:   make(chan struct{}),
		}

		self.entries = append(self.entries, entry)

		go func() {
			defer close(entry.done)
			entry.worker.Run()
		}()
	}
}

func (self *Server) shutdown() {
	self.lock.Lock()
	var entries = self.entries
	self.entries = nil
	self.lock.Unlock()

	for _, entry := range entries {
		entry.worker.Destroy()
	}

	for _, entry := range entries {
		<-entry.done
	}
}

// Destroy closes the listening socket, ends every worker and waits until the pool is gone.
func (self *Server) Destroy() error {
	var err error

	self.once.Do(func() {
		err = self.listener.Close()

		self.lock.Lock()
		close(self.closing)
		self.lock.Unlock()
	})

	self.lock.Lock()
	var running = self.running
	self.lock.Unlock()

	if running {
		<-self.stopped
	}

	if isClosed(err) {
		return nil
	}

	return err
}

type tlsListener struct {
	net.Listener
	config *tls.Config
}

func (self *tlsListener) Accept() (net.Conn, error) {
	if conn, err := self.Listener.Accept(); err == nil {
		return tls.Server(conn, self.config), nil
	} else {
		return nil, err
	}
}

func (self *tlsListener) SetDeadline(t time.Time) error {
	if dl, ok := self.Listener.(deadliner); ok {
		return dl.SetDeadline(t)
	}

	return nil
}
