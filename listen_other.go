//go:build !unix

package kiln

import (
	"net"
)

func listenTCP(address string, backlog int) (net.Listener, error) {
	return net.Listen(`tcp`, address)
}
