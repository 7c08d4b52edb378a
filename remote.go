package kiln

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ghetzel/go-stockutil/log"
)

var RemoteTimeout = 10 * time.Second

const DefaultRemotePort = 25001

// A Remote is the control connector of an instance. It reads one command line per
// connection (STATE, RESTART or STOP), answers it and closes the connection.
type Remote struct {
	instance *Instance
	name     string
	listener net.Listener
	caption  string
	stopped  chan struct{}
	running  bool
	once     sync.Once
	lock     sync.Mutex
}

func NewRemote(instance *Instance, name string) (*Remote, error) {
	var options = instance.Settings().Get(`server:` + strings.ToLower(name) + `:ini`)
	var remote = &Remote{
		instance: instance,
		name:     strings.ToLower(name),
		stopped:  make(chan struct{}),
	}

	if !options.Contains(`address`) {
		options.Set(`address`, `127.0.0.1`)
	}

	if listener, err := listenTCP(ListenAddress(options, DefaultRemotePort), 0); err == nil {
		remote.listener = listener
		remote.caption = fmt.Sprintf("REMOTE %s", listener.Addr())
	} else {
		return nil, err
	}

	return remote, nil
}

func (self *Remote) Caption() string {
	return self.caption
}

func (self *Remote) Addr() net.Addr {
	return self.listener.Addr()
}

// Run accepts control connections until the remote is destroyed.
func (self *Remote) Run() error {
	self.lock.Lock()
	self.running = true
	self.lock.Unlock()

	defer close(self.stopped)

	log.Noticef("SERVER %s READY", self.caption)
	defer log.Noticef("SERVER %s STOPPED", self.caption)

	for {
		if conn, err := self.listener.Accept(); err == nil {
			go self.serve(conn)
		} else if isClosed(err) {
			return nil
		} else if !isTimeout(err) {
			return err
		}
	}
}

func (self *Remote) serve(conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(RemoteTimeout))

	var line, err = bufio.NewReader(io.LimitReader(conn, MaxFieldSize)).ReadString('\n')

	if err != nil && err != io.EOF {
		log.Debugf("SERVER %s: %v", self.caption, err)
		return
	}

	var command = strings.ToLower(strings.TrimSpace(line))

	log.Debugf("SERVER %s: command %q from %v", self.caption, command, conn.RemoteAddr())

	var reply = self.Command(command)

	conn.SetDeadline(time.Now().Add(RemoteTimeout))

	if _, err := io.WriteString(conn, reply+"\r\n"); err != nil {
		log.Debugf("SERVER %s: %v", self.caption, err)
	}
}

// Command executes a control command and returns the reply text.
func (self *Remote) Command(command string) string {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case `state`, `status`:
		return self.instance.Details()
	case `restart`:
		// the remote is torn down by the restart itself
		if err := self.instance.Restart(); err == nil {
			return `INFO: SERVICE RESTARTED`
		} else {
			log.Errorf("restart: %v", err)
			return `INFO: SERVICE RESTART FAILED`
		}
	case `stop`:
		if err := self.instance.Stop(); err == nil {
			return `INFO: SERVICE STOPPED`
		} else {
			log.Errorf("stop: %v", err)
			return `INFO: SERVICE STOP FAILED`
		}
	default:
		return `INFO: UNKNOWN COMMAND`
	}
}

func (self *Remote) Destroy() error {
	var err error

	self.once.Do(func() {
		err = self.listener.Close()
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

// Call sends a command to the remote control at address and returns its reply.
func Call(address string, command string) (string, error) {
	var conn, err = net.DialTimeout(`tcp`, address, RemoteTimeout)

	if err != nil {
		return ``, err
	}

	defer conn.Close()

	conn.SetDeadline(time.Now().Add(RemoteTimeout))

	if _, err := io.WriteString(conn, strings.TrimSpace(command)+"\r\n"); err != nil {
		return ``, err
	}

	if reply, err := io.ReadAll(conn); err == nil {
		return strings.TrimSpace(string(reply)), nil
	} else {
		return ``, err
	}
}
