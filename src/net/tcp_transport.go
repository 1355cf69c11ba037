package net

import (
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	errNotAdvertisable = errors.New("local bind address is not advertisable")
	errNotTCP          = errors.New("local address is not a TCP address")
)

// StreamLayer is the connection source of a NetworkTransport: it accepts
// connections from peers and dials them.
type StreamLayer interface {
	net.Listener

	// Dial opens a connection to a peer's advertised address.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address peers should dial to reach this listener.
	AdvertiseAddr() string
}

type tcpStreamLayer struct {
	*net.TCPListener
	advertise string
}

func (t *tcpStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", address, timeout)
}

func (t *tcpStreamLayer) AdvertiseAddr() string {
	return t.advertise
}

// NewTCPTransport listens on bindAddr and returns a NetworkTransport over
// plain TCP. Peers reach it on advertise, or on the bound address when
// advertise is empty. Either way the address must name a specific host.
func NewTCPTransport(
	bindAddr string,
	advertise string,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {
	stream, err := listenTCP(bindAddr, advertise)
	if err != nil {
		return nil, err
	}
	return NewNetworkTransport(stream, maxPool, timeout, logger), nil
}

func listenTCP(bindAddr string, advertise string) (*tcpStreamLayer, error) {
	var adv net.Addr
	if advertise != "" {
		resolved, err := net.ResolveTCPAddr("tcp", advertise)
		if err != nil {
			return nil, err
		}
		adv = resolved
	}

	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	if adv == nil {
		adv = list.Addr()
	}

	tcpAddr, ok := adv.(*net.TCPAddr)
	if !ok {
		list.Close()
		return nil, errNotTCP
	}
	if tcpAddr.IP.IsUnspecified() {
		list.Close()
		return nil, errNotAdvertisable
	}

	if advertise == "" {
		advertise = tcpAddr.String()
	}
	return &tcpStreamLayer{
		TCPListener: list.(*net.TCPListener),
		advertise:   advertise,
	}, nil
}
