package overlay

import (
	"net"
	"time"
)

// NewTCPTransport returns the default Transport, implemented over TCP.
func NewTCPTransport() Transport {
	return tcpTransport{}
}

type tcpTransport struct{}

func (tcpTransport) Listen(laddr string) (net.Listener, error) {
	return net.Listen("tcp", laddr)
}

func (tcpTransport) DialTimeout(network, addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, addr, timeout)
}
