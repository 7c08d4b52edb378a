package kiln

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ghetzel/go-stockutil/executil"
	"github.com/ghetzel/go-stockutil/log"
	"github.com/ghetzel/kiln/util"
	shellwords "github.com/mattn/go-shellwords"
)

var rxGatewayStatusOnly = regexp.MustCompile(`^HTTP/STATUS(\s.*)?$`)
var rxGatewayStatusLine = regexp.MustCompile(`^(\S+)\s*(\S+)?\s*(.*?)\s*$`)

// GatewayCommand substitutes the placeholders of a gateway command line: [C] is the script
// path, [D] its directory and [N] its base name without extension. Remaining options are
// removed.
func GatewayCommand(template string, script string) string {
	var dir, name string

	if script = filepath.FromSlash(script); script != `` {
		name = filepath.Base(script)
		dir = strings.TrimSuffix(script, name)

		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[:i]
		}
	}

	for _, sub := range []struct {
		placeholder string
		value       string
	}{
		{`[C]`, script},
		{`[D]`, dir},
		{`[N]`, name},
	} {
		template = strings.ReplaceAll(template, strings.ToLower(sub.placeholder), sub.placeholder)
		template = strings.ReplaceAll(template, sub.placeholder, sub.value)
	}

	return CleanOptions(template)
}

// gatewayEnvironment lists the non-empty environment variables as NAME=value.
func gatewayEnvironment(env *Section) []string {
	var out []string
	var seen = make(map[string]bool)

	for _, key := range env.Keys() {
		if value := env.Get(key); value != `` {
			var entry = strings.ToUpper(key) + `=` + value

			if !seen[entry] {
				seen[entry] = true
				out = append(out, entry)
			}
		}
	}

	return out
}

// doGateway serves the request through a module or an external (X)CGI process.
func (self *Worker) doGateway(req *Request) error {
	if isModuleTarget(req.Gateway) {
		return self.server.instance.Modules.invoke(req, req.Gateway, false)
	}

	var commandline = GatewayCommand(req.Gateway, req.Environment.Get(`script_filename`))
	var args []string

	if a, err := shellwords.Parse(commandline); err == nil && len(a) > 0 {
		args = a
	} else if err != nil {
		return ErrorCode(http.StatusBadGateway, "invalid gateway command %q: %v", commandline, err)
	} else {
		return ErrorCode(http.StatusBadGateway, "empty gateway command")
	}

	var environment = gatewayEnvironment(req.Environment)
	var cmd = executil.Command(args[0], args[1:]...)

	cmd.Env = environment
	cmd.OnStderr = func(line string, _ bool) {
		if line = strings.TrimSpace(line); line != `` {
			log.Warningf("GATEWAY %s", line)
		}
	}

	isolateProcess(cmd.Cmd)

	stdin, err := cmd.StdinPipe()

	if err != nil {
		return err
	}

	stdout, err := cmd.StdoutPipe()

	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return ErrorCode(http.StatusBadGateway, "gateway %s: %v", args[0], err)
	}

	var expired = make(chan struct{})
	var finished = make(chan struct{})
	var watched = make(chan struct{})

	// the whole process group goes, so descendants holding stdout cannot outlive the limit
	if duration := req.optionDuration(`duration`); duration > 0 {
		go func() {
			var timer = time.NewTimer(duration)

			defer close(watched)
			defer timer.Stop()

			select {
			case <-timer.C:
				close(expired)
				killProcess(cmd.Cmd)
				stdout.Close()
			case <-finished:
			}
		}()
	} else {
		close(watched)
	}

	defer func() {
		close(finished)
		<-watched
		killProcess(cmd.Cmd)

		if err := cmd.Close(); err != nil && !isExpired(expired) {
			log.Debugf("GATEWAY %s: %v", args[0], err)
		}
	}()

	go self.feedGateway(req, stdin, environment, hasOption(req.Gateway, `X`))

	var output = bufio.NewReaderSize(stdout, req.blocksize)
	var timedOut = func(err error) error {
		if isExpired(expired) {
			return ErrorCode(http.StatusGatewayTimeout, "gateway %s exceeded its duration", args[0])
		}

		return err
	}

	header, err := readGatewayHeader(output)

	if err != nil {
		return timedOut(err)
	}

	var lines = splitLines(header)
	var forward = true

	if len(lines) > 0 && strings.HasPrefix(strings.ToUpper(lines[0]), `HTTP/`) {
		var first = strings.TrimSpace(lines[0])

		if rxGatewayStatusOnly.MatchString(strings.ToUpper(first)) {
			forward = false
		}

		if match := rxGatewayStatusLine.FindStringSubmatch(first); match != nil {
			if code, err := strconv.Atoi(match[2]); err == nil {
				if code < 0 {
					code = -code
				}

				req.Status = code
			}

			if text := match[3]; text != `` && !req.statuscodes.Contains(strconv.Itoa(req.Status)) {
				req.statuscodes.Set(strconv.Itoa(req.Status), text)
			}
		}

		lines = lines[1:]
	}

	if !forward {
		// the gateway only decided the status; the engine answers with its status page
		io.Copy(io.Discard, output)
		return timedOut(nil)
	}

	if err := req.WriteHeader(req.Status, lines...); err != nil {
		req.Status = http.StatusServiceUnavailable
		return nil
	}

	var buf = make([]byte, req.blocksize)

	for {
		var n, rerr = output.Read(buf)

		if n > 0 {
			if _, werr := req.Write(buf[:n]); werr != nil {
				req.Status = http.StatusServiceUnavailable
				return nil
			}
		}

		if rerr == io.EOF {
			break
		} else if rerr != nil {
			return timedOut(rerr)
		}
	}

	return timedOut(nil)
}

// feedGateway writes the XCGI environment block (if requested) and the request body to the
// gateway's standard input.
func (self *Worker) feedGateway(req *Request, stdin io.WriteCloser, environment []string, xcgi bool) {
	defer stdin.Close()

	var readers []io.Reader

	if xcgi {
		readers = append(readers, strings.NewReader(strings.TrimSpace(strings.Join(environment, "\r\n"))+"\r\n\r\n"))
	}

	if length, _ := req.ContentLength(); length > 0 {
		readers = append(readers, io.LimitReader(req.Input, length))
	}

	var input = util.NewChainableReader(readers...)
	var buf = make([]byte, req.blocksize)

	defer input.Close()

	for {
		n, err := input.Read(buf)

		if n > 0 {
			if _, werr := stdin.Write(buf[:n]); werr != nil {
				return
			}
		}

		if err != nil {
			return
		}

		if req.interrupt > 0 {
			time.Sleep(req.interrupt)
		}
	}
}

func isExpired(expired chan struct{}) bool {
	select {
	case <-expired:
		return true
	default:
		return false
	}
}

// readGatewayHeader reads the gateway output up to the blank line ending its header.
func readGatewayHeader(output *bufio.Reader) (string, error) {
	var header bytes.Buffer

	for !bytes.HasSuffix(header.Bytes(), []byte("\r\n\r\n")) {
		if c, err := output.ReadByte(); err == nil {
			header.WriteByte(c)
		} else if err == io.EOF {
			return ``, ErrorCode(http.StatusBadGateway, "gateway response ended before its header")
		} else {
			return ``, err
		}

		if header.Len() > MaxHeaderSize+4 {
			return ``, ErrorCode(http.StatusBadGateway, "gateway header exceeds %d bytes", MaxHeaderSize)
		}
	}

	return strings.TrimSpace(header.String()), nil
}
