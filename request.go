package kiln

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBlockSize = 65535
	MaxHeaderSize    = 65535
	MaxFieldSize     = 32768
	ServerProtocol   = `HTTP/1.0`
)

// A Request is the mutable state of one connection while it is being processed. Modules
// receive it by reference; anything they change is seen by the engine afterwards.
type Request struct {
	// response status; zero until a phase decides one
	Status int

	// true while no response header has been written; whoever writes one clears it
	Control bool

	// request line parts (req_*), header fields (http_*) and authentication results (auth_*)
	Fields *Section

	// CGI environment of the request
	Environment *Section

	// effective server options after virtual host overrides
	Options *Section

	// the resource the request resolved to, and the gateway or module serving it
	Resource  string
	Gateway   string
	MediaType string

	DocumentRoot string
	SystemRoot   string

	// raw request header as received
	Header string

	// body of the request (everything after the header)
	Input *bufio.Reader

	// bytes of response body sent so far
	Volume int64

	access      *Section
	filters     *Section
	interfaces  *Section
	references  *Section
	mediatypes  map[string]string
	statuscodes *Section
	blocksize   int
	interrupt   time.Duration
	secure      bool
	output      io.Writer
	started     time.Time
}

// Method returns the request method in upper case.
func (self *Request) Method() string {
	return strings.ToUpper(self.Fields.Get(`req_method`))
}

func (self *Request) Path() string {
	return self.Fields.Get(`req_path`)
}

func (self *Request) ContentLength() (int64, bool) {
	if self.Fields.Contains(`http_content_length`) {
		if v, err := strconv.ParseInt(self.Fields.Get(`http_content_length`), 10, 64); err == nil && v >= 0 {
			return v, true
		}

		return -1, true
	}

	return 0, false
}

// StatusText returns the configured text for a status code without its option flags.
func (self *Request) StatusText(code int) string {
	if text := CleanOptions(self.statuscodes.Get(fmt.Sprintf("%d", code))); text != `` {
		return text
	}

	return http.StatusText(code)
}

// HeaderOnly reports whether the status code is flagged [H], which suppresses any status
// page body.
func (self *Request) HeaderOnly(code int) bool {
	return hasOption(self.statuscodes.Get(fmt.Sprintf("%d", code)), `H`)
}

// ResponseHeader composes the status line, the common headers and the given header lines.
func (self *Request) ResponseHeader(status int, lines ...string) string {
	var out strings.Builder

	out.WriteString(strings.TrimSpace(fmt.Sprintf("%s %d %s", ServerProtocol, status, self.StatusText(status))))

	if self.identity() {
		out.WriteString("\r\nServer: " + ServerSoftware)
	}

	out.WriteString("\r\nDate: " + time.Now().UTC().Format(http.TimeFormat))

	for _, line := range lines {
		if line = strings.TrimSpace(line); line != `` {
			out.WriteString("\r\n" + line)
		}
	}

	return out.String()
}

// WriteHeader sends the response header for status and hands the rest of the response
// over to the caller. Subsequent writes go to the response body.
func (self *Request) WriteHeader(status int, lines ...string) error {
	self.Status = status
	self.Control = false

	_, err := io.WriteString(self.output, self.ResponseHeader(status, lines...)+"\r\n\r\n")
	return err
}

// Write sends response body data and accounts for it in Volume.
func (self *Request) Write(p []byte) (int, error) {
	var n, err = self.output.Write(p)

	self.Volume += int64(n)
	return n, err
}

func (self *Request) identity() bool {
	return self.Options.Enabled(`identity`)
}

func (self *Request) option(key string) int64 {
	return self.Options.Int(key)
}

// optionDuration reads a millisecond option.
func (self *Request) optionDuration(key string) time.Duration {
	if v := self.option(key); v > 0 {
		return time.Duration(v) * time.Millisecond
	}

	return 0
}
