package kiln

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ghetzel/go-stockutil/log"
	"github.com/ghetzel/go-stockutil/stringutil"
)

var rxByteRange = regexp.MustCompile(`^(\d+)?\s*-\s*(\d+)?$`)

// ErrRangeNotSatisfiable is returned by ParseRange when the range starts past the end.
var ErrRangeNotSatisfiable = ErrorCode(http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable")

// ParseRange interprets a Range header for a resource of the given size. It returns the
// half-open interval [start, end) to send and whether it is a partial response. Ranges
// that cannot be parsed select the whole resource.
func ParseRange(header string, size int64) (int64, int64, bool, error) {
	var spec string
	var found bool

	for _, part := range strings.Split(header, `;`) {
		if key, value := stringutil.SplitPair(part, `=`); strings.EqualFold(strings.TrimSpace(key), `bytes`) {
			spec = strings.TrimSpace(value)
			found = true
			break
		}
	}

	if !found || size <= 0 || !rxByteRange.MatchString(spec) {
		return 0, size, false, nil
	}

	var bounds = strings.FieldsFunc(spec, func(r rune) bool {
		return r == '-'
	})

	if len(bounds) == 0 {
		return 0, size, false, nil
	}

	var start, limit = int64(0), size

	if v, err := strconv.ParseInt(strings.TrimSpace(bounds[0]), 10, 64); err == nil {
		start = v
	} else {
		return 0, size, false, nil
	}

	if len(bounds) > 1 {
		if v, err := strconv.ParseInt(strings.TrimSpace(bounds[1]), 10, 64); err == nil {
			limit = v
		} else {
			return 0, size, false, nil
		}
	} else if strings.HasPrefix(spec, `-`) {
		// suffix form: the last n bytes
		if start > 0 {
			limit = size - 1
			start = size - start

			if start < 0 {
				start = 0
			}
		} else {
			limit = -1
		}
	}

	if limit > size-1 {
		limit = size - 1
	}

	if start >= size {
		return 0, 0, false, ErrRangeNotSatisfiable
	} else if start <= limit {
		return start, limit + 1, true, nil
	}

	return 0, size, false, nil
}

// IsModified compares a file against an If-(Un)Modified-Since value, optionally carrying a
// "; length=n" parameter. Timestamps are compared to the second; anything unparseable
// counts as modified.
func IsModified(modified time.Time, size int64, header string) bool {
	if header = strings.TrimSpace(header); header == `` {
		return true
	}

	var parts = strings.Split(header, `;`)

	if since, err := http.ParseTime(strings.TrimSpace(parts[0])); err == nil {
		if since.Unix() != modified.Unix() {
			return true
		}
	} else {
		return true
	}

	for _, part := range parts[1:] {
		if key, value := stringutil.SplitPair(strings.TrimSpace(part), `=`); strings.EqualFold(strings.TrimSpace(key), `length`) {
			if length, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				return length != size
			} else {
				return true
			}
		}
	}

	return false
}

// doGet serves a file (GET and HEAD, with ranges and conditions) or a directory listing.
func (self *Worker) doGet(req *Request) error {
	var method = req.Method()
	var stat, err = os.Stat(req.Resource)

	if err != nil {
		return ErrorCode(http.StatusNotFound, "%v", err)
	}

	if stat.IsDir() {
		if !req.Options.Enabled(`index`) {
			req.Status = http.StatusForbidden
			return nil
		}

		var headers = []string{`Content-Type: ` + req.mediatypes[`html`]}
		var body []byte

		if method == `GET` {
			if body, err = self.server.instance.renderIndex(req, req.Resource, req.Environment.Get(`query_string`)); err == nil {
				headers = append(headers, fmt.Sprintf("Content-Length: %d", len(body)))
			} else {
				return err
			}
		}

		if err := req.WriteHeader(req.Status, headers...); err != nil {
			return nil
		}

		req.Write(body)
		return nil
	}

	if !IsModified(stat.ModTime(), stat.Size(), req.Fields.Get(`http_if_modified_since`)) {
		req.Status = http.StatusNotModified
		return nil
	}

	if req.Fields.Contains(`http_if_unmodified_since`) && IsModified(stat.ModTime(), stat.Size(), req.Fields.Get(`http_if_unmodified_since`)) {
		req.Status = http.StatusPreconditionFailed
		return nil
	}

	var size = stat.Size()
	var start, end = int64(0), size

	if req.Fields.Contains(`http_range`) {
		var partial bool

		if start, end, partial, err = ParseRange(req.Fields.Get(`http_range`), size); err != nil {
			req.Status = StatusOf(err, http.StatusRequestedRangeNotSatisfiable)
			return nil
		} else if partial {
			req.Status = http.StatusPartialContent
		}
	}

	var headers = []string{
		`Last-Modified: ` + stat.ModTime().UTC().Format(http.TimeFormat),
		fmt.Sprintf("Content-Length: %d", end-start),
		`Accept-Ranges: bytes`,
	}

	if req.MediaType != `` {
		headers = append(headers, `Content-Type: `+req.MediaType)
	}

	if req.Status == http.StatusPartialContent {
		headers = append(headers, fmt.Sprintf("Content-Range: bytes %d-%d/%d", start, end-1, size))
	}

	if err := req.WriteHeader(req.Status, headers...); err != nil {
		return nil
	}

	if method != `GET` {
		return nil
	}

	var file *os.File

	if file, err = os.Open(req.Resource); err != nil {
		return err
	}

	defer file.Close()

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return err
	}

	var buf = make([]byte, req.blocksize)

	for remaining := end - start; remaining > 0; {
		var chunk = buf

		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		var n, rerr = file.Read(chunk)

		if n > 0 {
			if _, werr := req.Write(chunk[:n]); werr != nil {
				log.Debugf("SERVER %s: %v", self.server.Caption(), werr)
				req.Status = http.StatusServiceUnavailable
				return nil
			}

			remaining -= int64(n)
		}

		if rerr == io.EOF {
			break
		} else if rerr != nil {
			return rerr
		}
	}

	return nil
}

// doPut stores the request body as the resource, or creates the resource as a directory
// tree when the request has no Content-Length.
func (self *Worker) doPut(req *Request) error {
	var length, present = req.ContentLength()

	if !present {
		if !isDirectory(req.Resource) {
			if err := os.MkdirAll(filepath.FromSlash(req.Resource), 0755); err != nil {
				return ErrorCode(http.StatusFailedDependency, "create %s: %v", req.Resource, err)
			}
		}

		self.created(req)
		return nil
	} else if length < 0 {
		return ErrorCode(http.StatusLengthRequired, "invalid content length %q", req.Fields.Get(`http_content_length`))
	}

	var filename = filepath.FromSlash(req.Resource)

	os.Remove(filename)

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return ErrorCode(http.StatusFailedDependency, "create %s: %v", filepath.Dir(filename), err)
	}

	file, err := os.Create(filename)

	if err != nil {
		return ErrorCode(http.StatusFailedDependency, "create %s: %v", filename, err)
	}

	defer file.Close()

	var buf = make([]byte, req.blocksize)

	for length > 0 {
		var chunk = buf

		if int64(len(chunk)) > length {
			chunk = chunk[:length]
		}

		var n, rerr = req.Input.Read(chunk)

		if n > 0 {
			if _, werr := file.Write(chunk[:n]); werr != nil {
				return ErrorCode(http.StatusFailedDependency, "write %s: %v", filename, werr)
			}

			length -= int64(n)
		}

		if rerr != nil {
			break
		}

		if req.interrupt > 0 {
			time.Sleep(req.interrupt)
		}
	}

	if length > 0 {
		return ErrorCode(http.StatusBadRequest, "incomplete request body, %d bytes missing", length)
	}

	if err := file.Close(); err != nil {
		return ErrorCode(http.StatusFailedDependency, "write %s: %v", filename, err)
	}

	self.created(req)
	return nil
}

func (self *Worker) created(req *Request) {
	if req.Status == http.StatusOK || req.Status == http.StatusNotFound {
		req.Fields.Set(`req_location`, req.Environment.Get(`script_uri`))
		req.Status = http.StatusCreated
	}
}

// doDelete removes the resource, recursively for directories.
func (self *Worker) doDelete(req *Request) error {
	if err := os.RemoveAll(filepath.FromSlash(req.Resource)); err != nil {
		return ErrorCode(http.StatusFailedDependency, "delete %s: %v", req.Resource, err)
	}

	return nil
}
