package kiln

import (
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghetzel/go-stockutil/log"
	"github.com/ghetzel/go-stockutil/sliceutil"
)

// initiate reads and parses the request header, applies the virtual host and resolves,
// authorizes and filters the requested resource. It never answers the request itself; it
// only decides the status, the resource and how it is served.
func (self *Worker) initiate(req *Request, conn *trackedConn) {
	if tc, ok := conn.Conn.(*tls.Conn); ok {
		if conn.timeout > 0 {
			tc.SetDeadline(time.Now().Add(conn.timeout))
		}

		err := tc.Handshake()
		tc.SetDeadline(time.Time{})

		if err == nil {
			if peers := tc.ConnectionState().PeerCertificates; len(peers) > 0 {
				req.Fields.Set(`auth_cert`, peers[0].Subject.String())
			}
		} else {
			log.Debugf("SERVER %s: handshake: %v", self.server.Caption(), err)
		}
	}

	self.readHeader(req)

	var requestLine string

	if lines := splitLines(req.Header); len(lines) > 0 {
		requestLine = lines[0]
	}

	req.Fields.Set(`req_line`, requestLine)

	var method, rest = requestLine, ``

	if i := strings.IndexByte(requestLine, ' '); i >= 0 {
		method, rest = requestLine[:i], requestLine[i+1:]
	}

	req.Fields.Set(`req_method`, method)

	if req.Status == 0 && method == `` {
		req.Status = http.StatusBadRequest
	}

	// the protocol version is ignored
	if i := strings.LastIndexByte(rest, ' '); i >= 0 {
		rest = rest[:i]
	}

	if i := strings.IndexByte(rest, ' '); i >= 0 {
		rest = rest[:i]
	}

	var uri, query = rest, ``

	if i := strings.IndexByte(rest, '?'); i >= 0 {
		uri, query = rest[:i], rest[i+1:]
	}

	req.Fields.Set(`req_uri`, uri)
	req.Fields.Set(`req_query`, query)

	var decoded = DecodeText(uri)
	var path = NormalizePath(decoded)

	if strings.HasSuffix(decoded, `/`) && !strings.HasSuffix(path, `/`) {
		path += `/`
	}

	req.Fields.Set(`req_path`, path)

	if req.Status == 0 && (!strings.HasPrefix(path, `/`) || req.Header == ``) {
		req.Status = http.StatusBadRequest
	}

	var localAddr, localPort = endpoint(conn.LocalAddr())
	var remoteAddr, remotePort = endpoint(conn.RemoteAddr())
	var host = hostname(req.Fields.Get(`http_host`))

	if host == `` {
		host = localAddr
	}

	req.Fields.Set(`http_host`, host)

	self.applyVirtualHost(req, host)

	if bs := req.option(`blocksize`); bs > 0 {
		req.blocksize = int(bs)
	}

	if interrupt := req.option(`interrupt`); interrupt < 0 {
		req.interrupt = 10 * time.Millisecond
	} else {
		req.interrupt = time.Duration(interrupt) * time.Millisecond
	}

	conn.SetTimeout(req.optionDuration(`timeout`))

	var workdir, _ = os.Getwd()

	req.SystemRoot = rootDirectory(req.Options.Get(`sysroot`), workdir)
	req.DocumentRoot = rootDirectory(req.Options.Get(`docroot`), workdir)

	var env = req.Environment

	env.Set(`server_port`, localPort)
	env.Set(`server_protocol`, ServerProtocol)
	env.Set(`server_software`, ServerSoftware)
	env.Set(`document_root`, req.DocumentRoot)
	env.Set(`content_length`, req.Fields.Get(`http_content_length`))
	env.Set(`content_type`, req.Fields.Get(`http_content_type`))
	env.Set(`query_string`, query)
	env.Set(`request`, requestLine)
	env.Set(`request_method`, method)
	env.Set(`remote_addr`, remoteAddr)
	env.Set(`remote_port`, remotePort)
	env.Set(`unique_id`, uniqueID(remoteAddr, remotePort))
	env.Set(`path_url`, path)
	env.Set(`script_name`, path)
	env.Set(`script_url`, uri)
	env.Set(`path_context`, ``)
	env.Set(`path_info`, ``)

	var resolution = NewResolver(req.references, req.DocumentRoot).Resolve(path)

	if resolution.Virtual() {
		env.Set(`script_name`, resolution.ScriptName)
		env.Set(`path_context`, resolution.ScriptName)
		env.Set(`path_info`, resolution.PathInfo)
	}

	if req.Status == 0 || req.Status == http.StatusNotFound {
		switch {
		case resolution.Forbidden:
			req.Status = http.StatusForbidden
		case resolution.Module:
			req.Status = 0
		case resolution.Redirect:
			env.Set(`script_uri`, CleanOptions(resolution.Location))
			req.Status = http.StatusFound
		}
	}

	self.authorize(req, resolution.Access)

	for _, key := range req.Fields.Keys() {
		if strings.HasPrefix(key, `http_`) || strings.HasPrefix(key, `auth_`) {
			env.Set(key, req.Fields.Get(key))
		}
	}

	env.Set(`remote_user`, req.Fields.Get(`auth_user`))

	var forward = resolution.Forward()

	if forward {
		req.Resource = resolution.Location
	} else {
		req.Resource = CleanOptions(resolution.Location)
	}

	if req.Resource == `` {
		req.Resource = req.DocumentRoot + env.Get(`path_url`)
	}

	// resources that do not match their canonical form are not served
	if !forward && req.Status == 0 {
		var canonical = canonicalPath(req.Resource)

		if canonical != strings.TrimSuffix(req.Resource, `/`) && canonical != req.Resource {
			req.Status = http.StatusNotFound
		}

		if isDirectory(canonical) {
			if _, err := os.ReadDir(canonical); err != nil {
				req.Status = http.StatusNotFound
			}
		}

		req.Resource = canonical
	}

	if isRegularFile(req.Resource) && strings.HasSuffix(path, `/`) {
		path = strings.TrimSuffix(path, `/`)
	}

	if isDirectory(req.Resource) && !strings.HasSuffix(path, `/`) {
		path += `/`
	}

	if req.identity() {
		env.Set(`server_name`, host)
	}

	var base = baseURL(host, localPort, req.secure)

	if req.Status != http.StatusFound {
		env.Set(`script_uri`, base+path)
	}

	// requests for a path that is not in its normal form are sent to the normal form
	if req.Status == 0 && (env.Get(`path_url`) != path || decoded != path) && !resolution.Absolute && !forward {
		env.Set(`script_uri`, base+path)
		req.Status = http.StatusFound
	}

	if isDirectory(req.Resource) {
		if target := env.Get(`script_uri`); !strings.HasSuffix(target, `/`) {
			env.Set(`script_uri`, target+`/`)

			if req.Status == 0 {
				req.Status = http.StatusFound
			}
		}

		if req.Status == 0 {
			self.applyDefaultDocument(req)
		}
	}

	env.Set(`script_filename`, CleanOptions(req.Resource))
	env.Set(`path_translated`, CleanOptions(req.Resource))

	if query != `` {
		env.Set(`request_uri`, uri+`?`+query)
	} else {
		env.Set(`request_uri`, uri)
	}

	if !resolution.AllMethods() && req.Status <= 0 {
		if !allowsMethod(req.Options.Get(`methods`), method) {
			req.Status = http.StatusMethodNotAllowed
		}
	}

	req.Resource = self.filter(req)

	env.Set(`script_filename`, CleanOptions(req.Resource))
	env.Set(`path_translated`, CleanOptions(req.Resource))

	// modules and forwards choose their own media type
	if forward || isModuleTarget(req.Resource) {
		req.MediaType = req.Options.Get(`mediatype`)
		req.Gateway = req.Resource
		return
	}

	if req.Status == http.StatusFound {
		return
	}

	var ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(req.Resource), `.`))

	if gateway := req.interfaces.Get(ext); gateway != `` {
		var allowed string

		if i := strings.IndexByte(gateway, '>'); i >= 0 {
			allowed = strings.ToLower(strings.TrimSpace(gateway[:i]))
			gateway = strings.TrimSpace(gateway[i+1:])
		}

		req.Gateway = gateway

		if gateway != `` {
			env.Set(`gateway_interface`, `CGI/1.1`)

			if allowed != `` && !allowsMethod(allowed, method) && !allowsMethod(allowed, `all`) {
				if req.Status < 500 && req.Status != http.StatusFound {
					req.Status = http.StatusMethodNotAllowed
				}
			}
		}

		return
	}

	req.MediaType = req.mediatypes[ext]

	if req.MediaType == `` {
		req.MediaType = req.Options.Get(`mediatype`)
	}

	if req.Status == 0 && !acceptsMediaType(req.Fields.Get(`http_accept`), req.MediaType) {
		req.Status = http.StatusNotAcceptable
	}
}

// readHeader reads the request header byte by byte, leaving the body in the input buffer.
func (self *Worker) readHeader(req *Request) {
	var buffer bytes.Buffer
	var count, size int

	for {
		var c, err = req.Input.ReadByte()

		if err != nil {
			if err != io.EOF {
				if isTimeout(err) {
					req.Status = http.StatusRequestTimeout
				} else {
					req.Status = http.StatusBadRequest
				}
			}

			break
		}

		// counts the CR LF CR LF terminator
		if (count%2 == 0 && c == '\r') || (count%2 == 1 && c == '\n') {
			count++
		} else {
			count = 0
		}

		if count > 0 {
			size = 0
		} else {
			size++
		}

		if size > MaxFieldSize {
			req.Status = http.StatusRequestEntityTooLarge
		}

		buffer.WriteByte(c)

		if buffer.Len() >= MaxHeaderSize && count < 4 {
			req.Status = http.StatusRequestEntityTooLarge
			break
		} else if count == 4 {
			break
		}
	}

	req.Header = strings.TrimSpace(buffer.String())

	for i, line := range splitLines(req.Header) {
		if i == 0 {
			continue
		}

		var name, value = line, ``

		if c := strings.IndexByte(line, ':'); c >= 0 {
			name, value = line[:c], line[c+1:]
		}

		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		if name == `` || value == `` {
			continue
		}

		var key = `http_` + strings.ReplaceAll(name, `-`, `_`)

		if !req.Fields.Contains(key) {
			req.Fields.Set(key, value)
		}
	}
}

// applyVirtualHost merges the sections of the virtual host named by host over the
// server's own, unless the virtual host is restricted to other servers.
func (self *Worker) applyVirtualHost(req *Request, host string) {
	var settings = self.server.instance.Settings()
	var context = self.server.instance.virtualContext(host)

	if context == `` {
		return
	}

	var options = settings.Get(context + `:ini`)

	if servers := strings.Fields(strings.ToLower(options.Get(`server`))); len(servers) > 0 {
		if !sliceutil.ContainsString(servers, self.server.name) && !sliceutil.ContainsString(servers, self.server.context) {
			return
		}
	}

	req.access.Merge(settings.Get(context + `:acc`))
	req.Environment.Merge(settings.Get(context + `:env`))
	req.filters.Merge(settings.Get(context + `:flt`))
	req.interfaces.Merge(settings.Get(context + `:cgi`))
	req.Options.Merge(options)
	req.references.Merge(settings.Get(context + `:ref`))
}

// applyDefaultDocument swaps a directory resource for the first default document in it.
func (self *Worker) applyDefaultDocument(req *Request) {
	var dir = req.Resource

	if !strings.HasSuffix(dir, `/`) {
		dir += `/`
	}

	req.Resource = dir

	for _, entry := range strings.Fields(strings.ReplaceAll(req.Options.Get(`default`), `\`, `/`)) {
		if strings.Contains(entry, `/`) || !isRegularFile(dir+entry) {
			continue
		}

		req.Resource = dir + entry

		var context = req.Environment.Get(`path_context`)

		if context == `` {
			context = req.Environment.Get(`path_url`)
		}

		if !strings.HasSuffix(context, `/`) {
			context += `/`
		}

		req.Environment.Set(`script_name`, context+entry)
		break
	}
}

// authorize checks the credentials of the request against the access rule of its
// resource and records the outcome in the auth_* fields.
func (self *Worker) authorize(req *Request, rule *AccessRule) {
	if rule == nil || req.Status >= 500 {
		return
	}

	req.Fields.Set(`auth_realm`, rule.Realm)
	req.Fields.Set(`auth_type`, rule.Scheme())

	var method = req.Environment.Get(`request_method`)

	if user, err := NewAuthenticator(req.access).Authenticate(rule, method, req.Fields.Get(`http_authorization`)); err == nil {
		if user != `` {
			req.Fields.Set(`auth_user`, user)
		}
	} else {
		log.Debugf("SERVER %s: %v", self.server.Caption(), err)
		req.Status = StatusOf(err, http.StatusUnauthorized)
	}
}

// lines of a header block, skipping empty ones
func splitLines(header string) []string {
	return strings.FieldsFunc(header, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
}

// host name of a Host header without port and trailing dots
func hostname(value string) string {
	value = strings.TrimSpace(value)

	if h, _, err := net.SplitHostPort(value); err == nil {
		value = h
	} else if strings.Count(value, `:`) == 1 {
		value = value[:strings.IndexByte(value, ':')]
	}

	return strings.TrimRight(strings.Trim(value, `[]`), `.`)
}

func rootDirectory(value string, workdir string) string {
	var root = workdir

	if value = CleanOptions(value); value != `` {
		if abs, err := filepath.Abs(value); err == nil {
			root = abs
		}
	}

	if root == `` {
		root = `.`
	}

	return strings.TrimSuffix(filepath.ToSlash(root), `/`)
}

func canonicalPath(resource string) string {
	if abs, err := filepath.Abs(filepath.FromSlash(resource)); err == nil {
		return filepath.ToSlash(abs)
	}

	return filepath.ToSlash(filepath.Clean(resource))
}

func baseURL(host string, port string, secure bool) string {
	var scheme = `http`

	if secure {
		scheme = `https`
	}

	if strings.Contains(host, `:`) {
		host = `[` + host + `]`
	}

	if port != `` && !(port == `80` && !secure) && !(port == `443` && secure) {
		host += `:` + port
	}

	return scheme + `://` + host
}

func allowsMethod(methods string, method string) bool {
	return sliceutil.ContainsString(strings.Fields(strings.ToLower(methods)), strings.ToLower(method))
}

// acceptsMediaType matches a media type against an Accept header; parameters are treated
// as further entries.
func acceptsMediaType(accept string, mediatype string) bool {
	if accept = strings.TrimSpace(accept); accept == `` {
		return true
	}

	mediatype = strings.ToLower(mediatype)

	for _, entry := range strings.FieldsFunc(strings.ToLower(accept), func(r rune) bool {
		return r == ',' || r == ';'
	}) {
		entry = strings.TrimSpace(entry)

		if entry == mediatype || entry == `*/*` || entry == `*` {
			return true
		}

		if i := strings.IndexByte(mediatype, '/'); i >= 0 {
			if entry == mediatype[:i+1]+`*` || entry == `*`+mediatype[i:] {
				return true
			}
		}
	}

	return false
}
