package kiln

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenAddress(t *testing.T) {
	assert := require.New(t)

	assert.Equal(`:80`, ListenAddress(NewSection(), DefaultPort))
	assert.Equal(`:8080`, ListenAddress(SectionFromMap(map[string]string{
		`address`: `auto`,
		`port`:    `8080`,
	}), DefaultPort))
	assert.Equal(`127.0.0.1:0`, ListenAddress(SectionFromMap(map[string]string{
		`address`: `127.0.0.1`,
		`port`:    `0`,
	}), DefaultPort))
	assert.Equal(`[::1]:25001`, ListenAddress(SectionFromMap(map[string]string{
		`address`: `::1`,
	}), DefaultRemotePort))
}

func TestServerCaption(t *testing.T) {
	assert := require.New(t)
	var server = newTestServer(t, nil)

	assert.Equal(`TCP `+server.Addr().String(), server.Caption())

	assert.Eventually(func() bool {
		return server.PoolSize() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// destroying twice is harmless
	assert.NoError(server.Destroy())
	assert.NoError(server.Destroy())
	assert.Zero(server.PoolSize())
}

func TestServerBacklog(t *testing.T) {
	assert := require.New(t)
	var server = newTestServer(t, map[string]string{
		`backlog`: `16`,
	})

	server.file(t, `ok.txt`, `ok`)

	response, body := server.request(t, `GET`, `/ok.txt`)
	assert.Equal(http.StatusOK, response.StatusCode)
	assert.Equal(`ok`, body)
}

func idleConnections(t *testing.T, server *testServer, count int) []net.Conn {
	var conns []net.Conn

	for i := 0; i < count; i++ {
		conn, err := net.Dial(`tcp`, server.Addr().String())
		require.NoError(t, err)

		conns = append(conns, conn)
	}

	return conns
}

func TestServerPoolScaling(t *testing.T) {
	assert := require.New(t)
	var server = newTestServer(t, nil)

	// every connection that sends nothing keeps one worker busy
	var conns = idleConnections(t, server, 8)

	assert.Eventually(func() bool {
		return server.PoolSize() >= 9
	}, 10*time.Second, 25*time.Millisecond)

	// the pool still serves requests while the others are held
	server.file(t, `ok.txt`, `ok`)

	response, _ := server.request(t, `GET`, `/ok.txt`)
	assert.Equal(http.StatusOK, response.StatusCode)

	for _, conn := range conns {
		conn.Close()
	}

	assert.Eventually(func() bool {
		return server.PoolSize() <= 2
	}, 10*time.Second, 25*time.Millisecond)
}

func TestServerPoolCapacity(t *testing.T) {
	assert := require.New(t)
	var server = newTestServer(t, map[string]string{
		`maxaccess`: `3`,
	})

	var conns = idleConnections(t, server, 6)

	defer func() {
		for _, conn := range conns {
			conn.Close()
		}
	}()

	assert.Eventually(func() bool {
		return server.PoolSize() == 3
	}, 10*time.Second, 25*time.Millisecond)

	assert.Never(func() bool {
		return server.PoolSize() > 3
	}, 500*time.Millisecond, 25*time.Millisecond)
}

func writeTestCertificate(t *testing.T) (string, string) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	var template = &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: `localhost`,
		},
		DNSNames:    []string{`localhost`},
		IPAddresses: []net.IP{net.ParseIP(`127.0.0.1`)},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyder, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	var dir = t.TempDir()
	var certfile = filepath.Join(dir, `cert.pem`)
	var keyfile = filepath.Join(dir, `key.pem`)

	require.NoError(t, os.WriteFile(certfile, pem.EncodeToMemory(&pem.Block{Type: `CERTIFICATE`, Bytes: der}), 0644))
	require.NoError(t, os.WriteFile(keyfile, pem.EncodeToMemory(&pem.Block{Type: `EC PRIVATE KEY`, Bytes: keyder}), 0600))

	return certfile, keyfile
}

func TestServerTLS(t *testing.T) {
	assert := require.New(t)
	var certfile, keyfile = writeTestCertificate(t)
	var server = newTestServer(t, nil, fmt.Sprintf("server:test:ssl:\n  certificate: %q\n  key: %q\n", certfile, keyfile))

	assert.True(strings.HasPrefix(server.Caption(), `SSL `))

	server.file(t, `secure.txt`, `over tls`)
	server.file(t, `dir/x.txt`, `x`)

	var send = func(request string) (*http.Response, string) {
		conn, err := tls.Dial(`tcp`, server.Addr().String(), &tls.Config{
			InsecureSkipVerify: true,
		})

		require.NoError(t, err)
		defer conn.Close()

		conn.SetDeadline(time.Now().Add(10 * time.Second))

		_, err = io.WriteString(conn, request)
		require.NoError(t, err)

		response, err := http.ReadResponse(bufio.NewReader(conn), nil)
		require.NoError(t, err)
		defer response.Body.Close()

		body, err := io.ReadAll(response.Body)
		require.NoError(t, err)

		return response, string(body)
	}

	response, body := send("GET /secure.txt HTTP/1.0\r\nHost: localhost\r\n\r\n")
	assert.Equal(http.StatusOK, response.StatusCode)
	assert.Equal(`over tls`, body)

	response, _ = send("GET /dir HTTP/1.0\r\nHost: localhost\r\n\r\n")
	assert.Equal(http.StatusFound, response.StatusCode)
	assert.True(strings.HasPrefix(response.Header.Get(`Location`), `https://localhost:`))
}

func TestServerTLSHandshakeTimeout(t *testing.T) {
	assert := require.New(t)
	var certfile, keyfile = writeTestCertificate(t)
	var server = newTestServer(t, map[string]string{
		`timeout`: `300`,
	}, fmt.Sprintf("server:test:ssl:\n  certificate: %q\n  key: %q\n", certfile, keyfile))

	// a client that connects but never starts the handshake
	conn, err := net.DialTimeout(`tcp`, server.Addr().String(), 5*time.Second)
	assert.NoError(err)
	defer conn.Close()

	var started = time.Now()

	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// the server closes the connection once the handshake times out
	io.Copy(io.Discard, conn)
	assert.Less(time.Since(started), 2*time.Second)
}

func TestTLSConfig(t *testing.T) {
	assert := require.New(t)
	var certfile, keyfile = writeTestCertificate(t)

	config, err := TLSConfig(SectionFromMap(map[string]string{
		`certificate`: certfile,
		`key`:         keyfile,
		`clientauth`:  `auto`,
		`ca`:          certfile,
	}))

	assert.NoError(err)
	assert.Len(config.Certificates, 1)
	assert.Equal(tls.VerifyClientCertIfGiven, config.ClientAuth)
	assert.NotNil(config.ClientCAs)

	_, err = TLSConfig(SectionFromMap(map[string]string{
		`certificate`: filepath.Join(t.TempDir(), `missing.pem`),
	}))

	assert.Error(err)

	_, err = TLSConfig(SectionFromMap(map[string]string{
		`certificate`: certfile,
		`key`:         keyfile,
		`ca`:          keyfile,
	}))

	assert.Error(err)
}
