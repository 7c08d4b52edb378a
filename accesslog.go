package kiln

import (
	"bytes"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ghetzel/go-stockutil/log"
)

const AccessLogTimeFormat = `02/Jan/2006:15:04:05 -0700`

var DefaultAccessLogFormat = `{{.REMOTE_HOST}} - {{.REMOTE_USER}} [{{.TIME}}] "{{.REQUEST}}" {{.RESPONSE_STATUS}} {{.RESPONSE_LENGTH}}`

// ParseAccessLog splits an accesslog option into its line format and the optional file
// after the last ">" following the format's placeholders. "off" disables the log.
func ParseAccessLog(option string) (string, string, bool) {
	option = strings.TrimSpace(option)

	switch strings.ToLower(option) {
	case `off`:
		return ``, ``, false
	case ``, `on`:
		return DefaultAccessLogFormat, ``, true
	}

	var tail = 0

	if i := strings.LastIndex(option, `}}`); i >= 0 {
		tail = i + 2
	}

	if i := strings.LastIndex(option[tail:], `>`); i >= 0 {
		var format = strings.TrimSpace(option[:tail+i])
		var file = strings.TrimSpace(option[tail+i+1:])

		if format == `` {
			format = DefaultAccessLogFormat
		}

		return format, file, true
	}

	return option, ``, true
}

// AccessLogValues collects the environment of a finished request for its log line; empty
// values are written as "-".
func AccessLogValues(req *Request, at time.Time) map[string]string {
	var values = req.Environment.Map()

	values[`TIME`] = at.Format(AccessLogTimeFormat)

	for key, value := range values {
		if value = strings.TrimSpace(value); value == `` {
			values[key] = `-`
		} else {
			values[key] = strings.NewReplacer("\r", `\r`, "\n", `\n`, `"`, `\"`).Replace(value)
		}
	}

	return values
}

// trace completes the environment of a finished request and writes its access log line.
func (self *Instance) trace(req *Request, conn *trackedConn) error {
	var env = req.Environment
	var status = req.Status

	if status <= 0 {
		status = http.StatusInternalServerError
	}

	env.Set(`response_status`, strconv.Itoa(status))
	env.Set(`response_length`, strconv.FormatInt(req.Volume, 10))

	if env.Get(`http_host`) == `` {
		env.Set(`http_host`, req.Fields.Get(`http_host`))
	}

	format, file, enabled := ParseAccessLog(req.Options.Get(`accesslog`))

	if !enabled {
		return nil
	}

	var remote = env.Get(`remote_addr`)

	if remote == `` && conn != nil {
		remote, _ = endpoint(conn.RemoteAddr())
	}

	env.Set(`remote_host`, remote)

	if strings.Contains(strings.ToUpper(format), `REMOTE_HOST`) && remote != `` && req.Options.Enabled(`hostnamelookups`) {
		if names, err := net.LookupAddr(remote); err == nil && len(names) > 0 {
			env.Set(`remote_host`, strings.TrimSuffix(names[0], `.`))
		} else if err != nil {
			log.Debugf("access log: lookup %s: %v", remote, err)
		}
	}

	var tmpl, err = self.renderer.Parse(`accesslog`, format)

	if err != nil {
		return err
	}

	self.logLock.Lock()
	defer self.logLock.Unlock()

	var line []byte

	if line, err = tmpl.Bytes(AccessLogValues(req, time.Now())); err != nil {
		return err
	}

	line = append(bytes.TrimRight(line, "\r\n"), '\n')

	if file == `` {
		_, err = self.AccessLog.Write(line)
		return err
	}

	if !filepath.IsAbs(file) && req.SystemRoot != `` {
		file = filepath.Join(filepath.FromSlash(req.SystemRoot), file)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return err
	}

	if out, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644); err == nil {
		defer out.Close()

		_, err = out.Write(line)
		return err
	} else {
		return err
	}
}
