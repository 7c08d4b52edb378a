package kiln

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ghetzel/go-stockutil/log"
)

// doStatus answers the request with its status and, unless the method or the status code
// forbids a body, a status page from the system root.
func (self *Worker) doStatus(req *Request) error {
	var method = req.Method()
	var status = req.Status

	if status <= 0 {
		status = http.StatusInternalServerError
	}

	if method == `OPTIONS` && (status == http.StatusFound || status == http.StatusNotFound) {
		status = http.StatusOK
	}

	if status == http.StatusFound {
		var location = req.Environment.Get(`script_uri`)

		if query := req.Environment.Get(`query_string`); query != `` && !strings.Contains(location, `?`) {
			location += `?` + query
		}

		req.Fields.Set(`req_location`, location)
	}

	var headers []string

	if status == http.StatusUnauthorized && req.Fields.Get(`auth_type`) != `` {
		var rule = &AccessRule{
			Realm:  req.Fields.Get(`auth_realm`),
			Digest: strings.EqualFold(req.Fields.Get(`auth_type`), `Digest`),
		}

		headers = append(headers, `WWW-Authenticate: `+rule.Challenge(req.Environment.Get(`unique_id`)))
	}

	if location := req.Fields.Get(`req_location`); location != `` {
		headers = append(headers, `Location: `+location)
	}

	if method == `OPTIONS` || status == http.StatusMethodNotAllowed {
		if methods := strings.Fields(strings.ToUpper(req.Options.Get(`methods`))); len(methods) > 0 {
			headers = append(headers, `Allow: `+strings.Join(methods, `, `))
		}
	}

	var body []byte

	if method != `HEAD` && method != `OPTIONS` && !req.HeaderOnly(status) {
		// a page that cannot be rendered leaves a header-only response
		if page, err := self.server.instance.renderStatus(req, status); err == nil {
			body = page
		} else {
			log.Warningf("SERVER %s: status page %d: %v", self.server.Caption(), status, err)
		}

		if len(body) > 0 {
			headers = append(headers,
				`Content-Type: `+req.mediatypes[`html`],
				fmt.Sprintf("Content-Length: %d", len(body)),
			)
		}
	}

	if err := req.WriteHeader(status, headers...); err != nil {
		return err
	}

	if len(body) > 0 {
		if _, err := req.Write(body); err != nil {
			return err
		}
	}

	return nil
}

// StatusPageValues merges the request fields and environment into the values a status
// page is rendered with.
func StatusPageValues(req *Request, status int) map[string]string {
	var values = req.Fields.Map()

	for key, value := range req.Environment.Map() {
		values[key] = value
	}

	values[`HTTP_STATUS`] = strconv.Itoa(status)
	values[`HTTP_STATUS_TEXT`] = req.StatusText(status)

	return values
}

// renderStatus renders the most specific status page available: status-<code>.html,
// status-<class>xx.html or status.html.
func (self *Instance) renderStatus(req *Request, status int) ([]byte, error) {
	var tmpl, err = self.renderer.Lookup(
		req.SystemRoot,
		fmt.Sprintf("status-%d.html", status),
		fmt.Sprintf("status-%dxx.html", status/100),
		`status.html`,
	)

	if err != nil {
		return nil, err
	}

	return tmpl.Bytes(StatusPageValues(req, status))
}
