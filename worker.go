package kiln

import (
	"bufio"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ghetzel/go-stockutil/log"
	"github.com/ghetzel/go-stockutil/typeutil"
)

// how long a single Accept call blocks before the worker re-checks whether it was isolated
var AcceptPollInterval = 250 * time.Millisecond

type deadliner interface {
	SetDeadline(time.Time) error
}

// A Worker serves connections from the listener it shares with the other workers of its
// server, one connection at a time, until it is isolated or destroyed.
type Worker struct {
	server    *Server
	conn      *trackedConn
	isolated  bool
	destroyed bool
	isolation time.Duration
	lock      sync.Mutex
}

func NewWorker(server *Server) *Worker {
	return &Worker{
		server: server,
	}
}

// Run accepts and serves connections until the worker is isolated, destroyed or the
// listener is closed.
func (self *Worker) Run() {
	for self.active() {
		if conn, err := self.accept(); err == nil {
			if conn != nil {
				self.serve(conn)
			}
		} else {
			if !isClosed(err) {
				log.Errorf("SERVER %s: accept: %v", self.server.Caption(), err)
			}

			break
		}
	}
}

func (self *Worker) active() bool {
	self.lock.Lock()
	defer self.lock.Unlock()

	return !self.isolated && !self.destroyed
}

// accept waits for the next connection; it returns nil without an error when the poll
// interval passed without one.
func (self *Worker) accept() (net.Conn, error) {
	var listener = self.server.listener

	if listener == nil {
		return nil, net.ErrClosed
	}

	if dl, ok := listener.(deadliner); ok {
		dl.SetDeadline(time.Now().Add(AcceptPollInterval))
	}

	if conn, err := listener.Accept(); err == nil {
		return conn, nil
	} else if isTimeout(err) {
		return nil, nil
	} else {
		return nil, err
	}
}

// serve processes one accepted connection from header to access log.
func (self *Worker) serve(raw net.Conn) {
	var settings = self.server.instance.Settings()
	var options = settings.Get(self.server.context + `:ini`)
	var conn = newTrackedConn(raw, optionMillis(options.Get(`timeout`)))

	self.lock.Lock()
	self.conn = conn
	self.isolation = optionMillis(options.Get(`isolation`))
	self.lock.Unlock()

	var req = self.newRequest(conn, settings)

	self.process(req, conn)

	if err := conn.Close(); err != nil && !isClosed(err) {
		log.Debugf("SERVER %s: close: %v", self.server.Caption(), err)
	}

	if err := self.server.instance.trace(req, conn); err != nil {
		log.Errorf("SERVER %s: access log: %v", self.server.Caption(), err)
	}

	self.lock.Lock()
	self.conn = nil
	self.lock.Unlock()
}

// newRequest starts a request from fresh copies of the server's configuration sections.
func (self *Worker) newRequest(conn *trackedConn, settings *Settings) *Request {
	var context = self.server.context

	return &Request{
		Control:     true,
		Fields:      NewSection(),
		Environment: settings.Get(context + `:env`),
		Options:     settings.Get(context + `:ini`),
		Input:       bufio.NewReaderSize(conn, DefaultBlockSize),
		access:      settings.Get(context + `:acc`),
		filters:     settings.Get(context + `:flt`),
		interfaces:  settings.Get(context + `:cgi`),
		references:  settings.Get(context + `:ref`),
		mediatypes:  settings.MediaTypes(),
		statuscodes: settings.Get(`statuscodes`),
		blocksize:   DefaultBlockSize,
		secure:      self.server.secure,
		output:      conn,
		started:     time.Now(),
	}
}

// process runs the request state machine. Whatever happens, a request that has not been
// answered yet gets a status response.
func (self *Worker) process(req *Request, conn *trackedConn) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("SERVER %s: %v\n%s", self.server.Caption(), r, debug.Stack())

			if req.Status == 0 || req.Status == http.StatusOK {
				req.Status = http.StatusInternalServerError
			}
		}

		if req.Control {
			self.finalize(req)
		}
	}()

	self.initiate(req, conn)

	if req.Status == 0 {
		if isModuleTarget(req.Resource) || exists(req.Resource) {
			req.Status = http.StatusOK
		} else {
			req.Status = http.StatusNotFound
		}
	}

	if !req.Control {
		return
	}

	if req.Status == http.StatusOK && req.Gateway != `` {
		if err := self.doGateway(req); err != nil {
			log.Warningf("SERVER %s: gateway %s: %v", self.server.Caption(), CleanOptions(req.Gateway), err)

			req.Status = StatusOf(err, http.StatusBadGateway)
		}

		return
	}

	var err error

	switch method := req.Method(); method {
	case `OPTIONS`:
	case `HEAD`, `GET`:
		if req.Status == http.StatusOK {
			err = self.doGet(req)
		}
	case `PUT`:
		if req.Status == http.StatusOK || req.Status == http.StatusNotFound {
			err = self.doPut(req)
		}
	case `DELETE`:
		if req.Status == http.StatusOK {
			err = self.doDelete(req)
		}
	default:
		if req.Status == http.StatusOK {
			err = ErrNotImplemented(method)
		}
	}

	if err != nil {
		req.Status = StatusOf(err, http.StatusInternalServerError)

		if req.Status >= 500 && req.Status != http.StatusNotImplemented {
			log.Errorf("SERVER %s: %v", self.server.Caption(), err)
		}
	}
}

// finalize answers a request that no phase has answered with a status page.
func (self *Worker) finalize(req *Request) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("SERVER %s: status: %v", self.server.Caption(), r)
		}
	}()

	if err := self.doStatus(req); err != nil && !isClosed(err) {
		log.Debugf("SERVER %s: status: %v", self.server.Caption(), err)
	}
}

// Available reports whether the worker is idle and waiting for a connection. A connection
// whose write has stalled for longer than the isolation timeout is closed as a side effect.
func (self *Worker) Available() bool {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.conn != nil && self.conn.Stalled(self.isolation) {
		log.Debugf("SERVER %s: closing stalled connection from %v", self.server.Caption(), self.conn.RemoteAddr())
		self.conn.Close()
	}

	return !self.isolated && !self.destroyed && self.conn == nil
}

// Isolate marks an idle worker to end its loop; a busy worker is not affected.
func (self *Worker) Isolate() {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.conn == nil {
		self.isolated = true
	}
}

// Retiring reports whether the worker was isolated and is about to leave the pool.
func (self *Worker) Retiring() bool {
	self.lock.Lock()
	defer self.lock.Unlock()

	return self.isolated && !self.destroyed
}

// Destroy ends the worker for good, aborting a connection in progress.
func (self *Worker) Destroy() {
	self.lock.Lock()
	defer self.lock.Unlock()

	self.destroyed = true

	if self.conn != nil {
		self.conn.Close()
	}
}

func optionMillis(value string) time.Duration {
	if ms := typeutil.Int(CleanOptions(value)); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}

	return 0
}

func exists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

func isModuleTarget(target string) bool {
	return hasOption(target, `M`)
}

func isDirectory(filename string) bool {
	if stat, err := os.Stat(filename); err == nil {
		return stat.IsDir()
	}

	return false
}

func isRegularFile(filename string) bool {
	if stat, err := os.Stat(filename); err == nil {
		return stat.Mode().IsRegular()
	}

	return false
}
