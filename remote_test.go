package kiln

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testRemoteYAML = `
server:web:bas:
  type: http

server:web:ini:
  address: 127.0.0.1
  port: 0
  accesslog: off

server:ctl:bas:
  type: remote

server:ctl:ini:
  port: 0

server:bogus:bas:
  type: gopher
`

func startTestInstance(t *testing.T) *Instance {
	settings, err := ParseSettings([]byte(testRemoteYAML))
	require.NoError(t, err)

	var instance = NewInstance(settings)

	instance.AccessLog = io.Discard

	require.NoError(t, instance.Start())

	t.Cleanup(func() {
		instance.Stop()
	})

	return instance
}

func remoteAddress(t *testing.T, instance *Instance) string {
	for _, connector := range instance.Servers() {
		if remote, ok := connector.(*Remote); ok {
			return remote.Addr().String()
		}
	}

	t.Fatalf("no remote control running")
	return ``
}

func TestRemoteState(t *testing.T) {
	assert := require.New(t)
	var instance = startTestInstance(t)

	// the unknown server type is skipped
	assert.Len(instance.Servers(), 2)

	var address = remoteAddress(t, instance)

	assert.True(strings.HasPrefix(address, `127.0.0.1:`))

	reply, err := Call(address, `STATE`)
	assert.NoError(err)

	var lines = strings.Split(reply, "\r\n")

	assert.Equal(`VERS: `+ServerSoftware, lines[0])
	assert.True(strings.HasPrefix(lines[1], `TIME: `))
	assert.True(strings.HasPrefix(lines[2], `TIUP: `))
	assert.Contains(reply, "SAPI: TCP 127.0.0.1:")
	assert.Contains(reply, "SAPI: REMOTE "+address)

	reply, err = Call(address, `dance`)
	assert.NoError(err)
	assert.Equal(`INFO: UNKNOWN COMMAND`, reply)
}

func TestRemoteRestart(t *testing.T) {
	assert := require.New(t)
	var instance = startTestInstance(t)
	var before = remoteAddress(t, instance)

	reply, err := Call(before, `restart`)
	assert.NoError(err)
	assert.Equal(`INFO: SERVICE RESTARTED`, reply)

	assert.Len(instance.Servers(), 2)

	var after = remoteAddress(t, instance)

	reply, err = Call(after, `state`)
	assert.NoError(err)
	assert.Contains(reply, `SAPI: REMOTE `+after)
}

func TestRemoteStop(t *testing.T) {
	assert := require.New(t)
	var instance = startTestInstance(t)
	var address = remoteAddress(t, instance)

	reply, err := Call(address, `stop`)
	assert.NoError(err)
	assert.Equal(`INFO: SERVICE STOPPED`, reply)

	select {
	case <-instance.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("instance did not stop")
	}

	assert.Empty(instance.Servers())
	assert.Error(instance.Start())

	_, err = Call(address, `state`)
	assert.Error(err)
}

func TestInstanceStartFailure(t *testing.T) {
	assert := require.New(t)

	settings, err := ParseSettings([]byte("server:only:bas:\n  type: gopher\n"))
	assert.NoError(err)
	assert.Error(NewInstance(settings).Start())

	// no servers at all is not an error
	assert.NoError(NewInstance(nil).Start())
}

func TestVirtualContext(t *testing.T) {
	assert := require.New(t)

	settings, err := ParseSettings([]byte(`
virtual:*.example.com:ini:
  docroot: /srv/wild

virtual:www.example.com:ini:
  docroot: /srv/www

virtual:static.*:env:
  x: y
`))

	assert.NoError(err)

	var instance = NewInstance(settings)

	assert.Equal(`virtual:www.example.com`, instance.virtualContext(`WWW.example.com`))
	assert.Equal(`virtual:*.example.com`, instance.virtualContext(`api.example.com`))
	assert.Equal(`virtual:*.example.com`, instance.virtualContext(`static.example.com`))
	assert.Equal(`virtual:static.*`, instance.virtualContext(`static.test`))
	assert.Empty(instance.virtualContext(`a.b.example.com`))
	assert.Empty(instance.virtualContext(`example.org`))
	assert.Empty(instance.virtualContext(``))
}
