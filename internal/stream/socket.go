//go:build linux

package stream

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// newListenSocket creates a non-blocking, dual-stack-capable TCP listening
// socket bound to addr, with SO_REUSEADDR set so a restarted relay doesn't
// have to wait out TIME_WAIT.
func newListenSocket(addr string) (int, error) {
	sa, family, err := resolveTCPAddr(addr)
	if err != nil {
		return -1, errors.Wrap(err, "resolveTCPAddr")
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(err, "unix.Socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "SO_REUSEADDR")
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "unix.Bind")
	}
	const backlog = 1024
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "unix.Listen")
	}
	return fd, nil
}

// resolveTCPAddr turns a "host:port" string into a raw sockaddr, preferring
// IPv4 since the relay's deployment target has no IPv6 requirement, but
// falling back to IPv6 when that's what the host resolves to.
func resolveTCPAddr(addr string) (unix.Sockaddr, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, errors.Wrap(err, "SplitHostPort")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, errors.Wrap(err, "invalid port")
	}

	if host == "" {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "lookup %s", host)
		}
		ip = ips[0]
	}
	if ip4 := ip.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET, nil
	}
	ip16 := ip.To16()
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], ip16)
	return &sa, unix.AF_INET6, nil
}

// sockaddrString renders a raw sockaddr as "host:port" for logging and for
// the peer-address string stashed on each Connection.
func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	default:
		return fmt.Sprintf("%v", sa)
	}
}

// localAddrString reads back the address the kernel actually bound fd to:
// the listening address behind Server.ListenAddr (useful when the caller
// asked for an ephemeral port) and each accepted connection's local address.
func localAddrString(fd int) (string, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", errors.Wrap(err, "Getsockname")
	}
	return sockaddrString(sa), nil
}

func peerAddrString(fd int) (string, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", errors.Wrap(err, "Getpeername")
	}
	return sockaddrString(sa), nil
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
