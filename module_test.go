package kiln

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type echoModule struct{}

func (echoModule) Filter(req *Request, options string) error {
	if req.Path() == `/filtered/stop` {
		req.WriteHeader(http.StatusOK, `Content-Type: text/plain`)
		req.Write([]byte(`filtered`))
	}

	return nil
}

func (echoModule) Service(req *Request, options string) error {
	if req.Environment.Get(`query_string`) == `fail` {
		return ErrorCode(http.StatusTeapot, "asked to fail")
	}

	req.WriteHeader(http.StatusOK, `Content-Type: text/plain`)
	req.Write([]byte(fmt.Sprintf("%s|%s|%s|%s",
		options,
		req.Environment.Get(`script_name`),
		req.Environment.Get(`path_info`),
		req.Environment.Get(`query_string`),
	)))

	return nil
}

func TestModuleRegistry(t *testing.T) {
	assert := require.New(t)
	var registry = NewModuleRegistry()

	assert.Error(registry.Register(` `, echoModule{}))
	assert.Error(registry.Register(`nil`, nil))
	assert.NoError(registry.Register(`Echo`, echoModule{}))
	assert.NoError(registry.Register(`status`, ModuleFunc(func(req *Request, options string) error {
		return nil
	})))

	_, ok := registry.Get(`ECHO `)
	assert.True(ok)

	_, ok = registry.Get(`missing`)
	assert.False(ok)

	assert.Equal([]string{`echo`, `status`}, registry.Names())

	module, _ := registry.Get(`status`)
	assert.NoError(module.Filter(nil, ``))
}

func TestModuleInvokeUnknown(t *testing.T) {
	assert := require.New(t)
	var registry = NewModuleRegistry()
	var req = &Request{
		Environment: NewSection(),
	}

	var err = registry.invoke(req, `nothing [M] extra`, false)

	assert.ErrorContains(err, ErrUnknownModule.Error())
	assert.Equal(http.StatusBadGateway, StatusOf(err, 0))
}

func TestModuleRequests(t *testing.T) {
	assert := require.New(t)
	var server = newTestServer(t, nil)

	assert.NoError(server.Instance.Modules.Register(`echo`, echoModule{}))

	response, body := server.request(t, `GET`, `/mod/some/path?x=1`)
	assert.Equal(http.StatusOK, response.StatusCode)
	assert.Equal(`text/plain`, response.Header.Get(`Content-Type`))
	assert.Equal(`echo [M]|/mod|/some/path|x=1`, body)

	response, _ = server.request(t, `GET`, `/mod?fail`)
	assert.Equal(http.StatusTeapot, response.StatusCode)

	response, _ = server.request(t, `GET`, `/nomod`)
	assert.Equal(http.StatusBadGateway, response.StatusCode)

	// a module filter may answer the request itself
	response, body = server.request(t, `GET`, `/filtered/stop`)
	assert.Equal(http.StatusOK, response.StatusCode)
	assert.Equal(`filtered`, body)

	response, _ = server.request(t, `GET`, `/filtered/pass`)
	assert.Equal(http.StatusNotFound, response.StatusCode)

	assert.Contains(server.Instance.Details(), `XAPI: echo`)
}
