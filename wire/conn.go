package wire

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	Port          = 5353
	maxPacketSize = 9000
)

var (
	GroupIPv4 = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: Port}
	GroupIPv6 = &net.UDPAddr{IP: net.ParseIP("ff02::fb"), Port: Port}
)

// Conn multicasts to the mDNS groups and reads whatever comes back. IPv6 is
// best effort.
type Conn struct {
	v4 *ipv4.PacketConn
	v6 *ipv6.PacketConn

	group4, group6 net.Addr

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens sockets on ephemeral ports for one-shot queries; responders
// answer those by unicast. Multicast goes out through iface when non-nil.
func Dial(iface *net.Interface) (*Conn, error) {
	return open(net.ListenConfig{}, 0, iface)
}

// Listen opens sockets bound to the mDNS port, shared with any other mDNS
// listener on the host. Responses must leave from port 5353 or receivers
// discard them.
func Listen(iface *net.Interface) (*Conn, error) {
	return open(net.ListenConfig{Control: reuseControl}, Port, iface)
}

func open(lc net.ListenConfig, port int, iface *net.Interface) (*Conn, error) {
	ctx := context.Background()
	addr := fmt.Sprintf(":%d", port)

	udp4, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		v4:     ipv4.NewPacketConn(udp4),
		group4: GroupIPv4,
		group6: GroupIPv6,
		closed: make(chan struct{}),
	}
	if err := setupIPv4(c.v4, iface); err != nil {
		c.v4.Close()
		return nil, err
	}

	udp6, err := lc.ListenPacket(ctx, "udp6", addr)
	if err != nil {
		log.Tracef("⛔ ipv6 multicast unavailable: %v", err)
		return c, nil
	}
	c.v6 = ipv6.NewPacketConn(udp6)
	if err := setupIPv6(c.v6, iface); err != nil {
		log.Tracef("⛔ ipv6 multicast unavailable: %v", err)
		c.v6.Close()
		c.v6 = nil
	}
	return c, nil
}

// LocalAddr is the IPv4 socket's address.
func (c *Conn) LocalAddr() net.Addr {
	return c.v4.LocalAddr()
}

func setupIPv4(p *ipv4.PacketConn, iface *net.Interface) error {
	if err := p.SetMulticastTTL(255); err != nil {
		return err
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		return err
	}
	if iface != nil {
		return p.SetMulticastInterface(iface)
	}
	return nil
}

func setupIPv6(p *ipv6.PacketConn, iface *net.Interface) error {
	if err := p.SetMulticastHopLimit(255); err != nil {
		return err
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		return err
	}
	if iface != nil {
		return p.SetMulticastInterface(iface)
	}
	return nil
}

// SendMessage multicasts m on every open family. It fails only when IPv4
// fails.
func (c *Conn) SendMessage(m *dns.Msg) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := c.v4.WriteTo(data, nil, c.group4); err != nil {
		return err
	}
	if c.v6 != nil {
		if _, err := c.v6.WriteTo(data, nil, c.group6); err != nil {
			log.Tracef("⛔ ipv6 send: %v", err)
		}
	}
	return nil
}

// ReadMessages continuously reads messages in goroutines and returns them
// on a channel. Undecodable packets are dropped. The goroutines exit when
// the conn is closed.
func (c *Conn) ReadMessages() <-chan *dns.Msg {
	resC := make(chan *dns.Msg)
	var wg sync.WaitGroup

	read := func(readFrom func([]byte) (int, error)) {
		defer wg.Done()
		buf := make([]byte, maxPacketSize)
		for {
			n, err := readFrom(buf)
			if err != nil {
				return
			}
			msg, err := Decode(buf[:n])
			if err != nil {
				log.Tracef("⛔ dropping packet: %v", err)
				continue
			}
			select {
			case resC <- msg:
			case <-c.closed:
				return
			}
		}
	}

	wg.Add(1)
	go read(func(b []byte) (int, error) {
		n, _, _, err := c.v4.ReadFrom(b)
		return n, err
	})
	if c.v6 != nil {
		wg.Add(1)
		go read(func(b []byte) (int, error) {
			n, _, _, err := c.v6.ReadFrom(b)
			return n, err
		})
	}

	go func() {
		wg.Wait()
		close(resC)
	}()
	return resC
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.v4.Close()
		if c.v6 != nil {
			c.v6.Close()
		}
	})
	return err
}
