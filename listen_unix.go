//go:build unix

package kiln

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenTCP binds a TCP listener. A positive backlog sizes the kernel's accept queue,
// which net.Listen does not expose.
func listenTCP(address string, backlog int) (net.Listener, error) {
	if backlog <= 0 {
		return net.Listen(`tcp`, address)
	}

	var addr, err = net.ResolveTCPAddr(`tcp`, address)

	if err != nil {
		return nil, err
	}

	var domain = unix.AF_INET
	var sockaddr unix.Sockaddr

	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		var sa = &unix.SockaddrInet4{Port: addr.Port}

		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}

		sockaddr = sa
	} else {
		var sa = &unix.SockaddrInet6{Port: addr.Port}

		copy(sa.Addr[:], addr.IP.To16())
		domain = unix.AF_INET6
		sockaddr = sa
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)

	if err != nil {
		return nil, fmt.Errorf("socket: %v", err)
	}

	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt: %v", err)
	}

	if err := unix.Bind(fd, sockaddr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %v", address, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %v", address, err)
	}

	var file = os.NewFile(uintptr(fd), address)
	defer file.Close()

	return net.FileListener(file)
}
