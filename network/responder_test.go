package network

import (
	"context"
	"errors"
	stdlog "log"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"svcmdns/publish"
	"svcmdns/wire"

	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	cfg       *mdns.Config
	shutdowns int
}

func (s *fakeServer) Shutdown() error {
	s.shutdowns++
	return nil
}

type fakeConn struct {
	mu      sync.Mutex
	sent    []*dns.Msg
	replies chan *dns.Msg
	closed  bool
}

func newFakeConn(replies ...*dns.Msg) *fakeConn {
	c := &fakeConn{replies: make(chan *dns.Msg, len(replies))}
	for _, m := range replies {
		c.replies <- m
	}
	return c
}

func (c *fakeConn) SendMessage(m *dns.Msg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) ReadMessages() <-chan *dns.Msg { return c.replies }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Sent() []*dns.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*dns.Msg(nil), c.sent...)
}

func (c *fakeConn) last() *dns.Msg {
	sent := c.Sent()
	if len(sent) == 0 {
		return nil
	}
	return sent[len(sent)-1]
}

type harness struct {
	r         *Responder
	server    *fakeServer
	announcer *fakeConn
	dials     chan *fakeConn
}

func fakeListener(c *fakeConn) Option {
	return withListener(func(*net.Interface) (conn, error) { return c, nil })
}

func startHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{server: &fakeServer{}, announcer: newFakeConn(), dials: make(chan *fakeConn, 4)}

	opts = append([]Option{
		fakeListener(h.announcer),
		withServer(func(c *mdns.Config) (server, error) {
			h.server.cfg = c
			return h.server, nil
		}),
		withDialer(func(*net.Interface) (conn, error) {
			select {
			case c := <-h.dials:
				return c, nil
			default:
				return nil, errors.New("no more sockets")
			}
		}),
		WithLookupTimeout(50 * time.Millisecond),
	}, opts...)

	r, err := Start(netip.Addr{}, opts...)
	require.NoError(t, err)
	h.r = r
	t.Cleanup(func() { _ = r.Stop() })
	return h
}

var hostAddr = netip.MustParseAddr("192.168.1.20")

func registerService(t *testing.T, h *harness) publish.ServiceHandle {
	t.Helper()
	require.NoError(t, h.r.SetHostname("box.local", hostAddr))
	desc, err := publish.NewServiceDescriptor("mytest", "_http._tcp", 8080, []string{"name=toto"})
	require.NoError(t, err)
	handle, err := h.r.RegisterService(desc)
	require.NoError(t, err)
	return handle
}

func question(name string, qtype uint16) dns.Question {
	return dns.Question{Name: name, Qtype: qtype, Qclass: dns.ClassINET}
}

func TestStart(t *testing.T) {
	h := startHarness(t)
	require.NotNil(t, h.server.cfg)
	assert.Same(t, h.r.zone, h.server.cfg.Zone)
	assert.Nil(t, h.server.cfg.Iface)
	assert.Empty(t, h.announcer.Sent())

	// hashicorp/mdns logs through the standard library logger
	require.NotNil(t, stdlogBridge)
	assert.Same(t, stdlogBridge, stdlog.Writer())
}

func TestStartServerFailure(t *testing.T) {
	c := newFakeConn()
	_, err := Start(netip.Addr{},
		fakeListener(c),
		withServer(func(*mdns.Config) (server, error) {
			return nil, errors.New("no multicast listeners could be started")
		}),
	)
	assert.ErrorContains(t, err, "no multicast listeners")
	assert.True(t, c.closed)
}

func TestStartSocketFailure(t *testing.T) {
	_, err := Start(netip.Addr{},
		withListener(func(*net.Interface) (conn, error) { return nil, errors.New("permission denied") }),
		withServer(func(*mdns.Config) (server, error) {
			t.Fatal("server must not start")
			return nil, nil
		}),
	)
	assert.ErrorContains(t, err, "permission denied")
}

func TestStarter(t *testing.T) {
	var _ publish.Responder = (*Responder)(nil)

	start := Starter(withServer(func(*mdns.Config) (server, error) { return &fakeServer{}, nil }),
		fakeListener(newFakeConn()))
	r, err := start(netip.Addr{})
	require.NoError(t, err)
	require.NoError(t, r.Stop())
}

func TestSetHostname(t *testing.T) {
	h := startHarness(t)
	require.NoError(t, h.r.SetHostname("box.local", hostAddr))

	rrs := h.r.zone.Records(question("box.local.", dns.TypeA))
	require.Len(t, rrs, 1)
	assert.Equal(t, "192.168.1.20", rrs[0].(*dns.A).A.String())
	assert.Empty(t, h.r.zone.Records(question("other.local.", dns.TypeA)))
	assert.Empty(t, h.r.zone.Records(question("box.local.", dns.TypeAAAA)))

	announced := h.announcer.last()
	require.NotNil(t, announced)
	assert.True(t, announced.Response)
	assert.Equal(t, rrs, announced.Answer)

	assert.ErrorIs(t, h.r.SetHostname("other.local", hostAddr), ErrHostnameSet)
}

func TestAddRecord(t *testing.T) {
	h := startHarness(t)

	extra, err := publish.NewAddressRecord("box.local", netip.MustParseAddr("fe80::1"))
	require.NoError(t, err)
	assert.ErrorIs(t, h.r.AddRecord(extra), ErrNoHostname)

	require.NoError(t, h.r.SetHostname("box.local", hostAddr))
	require.NoError(t, h.r.AddRecord(extra))
	assert.Len(t, h.r.zone.Records(question("box.local.", dns.TypeAAAA)), 1)
	assert.Len(t, h.r.zone.Records(question("BOX.local.", dns.TypeANY)), 2)

	foreign, err := publish.NewAddressRecord("other.local", netip.MustParseAddr("10.0.0.1"))
	require.NoError(t, err)
	assert.ErrorIs(t, h.r.AddRecord(foreign), ErrForeignOwner)

	assert.Error(t, h.r.AddRecord(&dns.TXT{Hdr: dns.RR_Header{Name: "box.local.", Rrtype: dns.TypeTXT}}))
}

func TestRegisterService(t *testing.T) {
	h := startHarness(t)

	desc, err := publish.NewServiceDescriptor("mytest", "_http._tcp", 8080, nil)
	require.NoError(t, err)
	_, err = h.r.RegisterService(desc)
	assert.ErrorIs(t, err, ErrNoHostname)

	registerService(t, h)

	ptrs := h.r.zone.Records(question("_http._tcp.local.", dns.TypePTR))
	require.NotEmpty(t, ptrs)
	ptr, ok := ptrs[0].(*dns.PTR)
	require.True(t, ok)
	assert.Equal(t, "mytest._http._tcp.local.", ptr.Ptr)

	var srv *dns.SRV
	var txt *dns.TXT
	for _, rr := range h.r.zone.Records(question("mytest._http._tcp.local.", dns.TypeANY)) {
		switch v := rr.(type) {
		case *dns.SRV:
			srv = v
		case *dns.TXT:
			txt = v
		}
	}
	require.NotNil(t, srv)
	require.NotNil(t, txt)
	assert.Equal(t, uint16(8080), srv.Port)
	assert.Equal(t, "box.local.", srv.Target)
	assert.Equal(t, []string{"name=toto"}, txt.Txt)

	// host A answered once even though the service knows the address too
	assert.Len(t, h.r.zone.Records(question("box.local.", dns.TypeA)), 1)

	announced := h.announcer.last()
	require.NotNil(t, announced)
	assert.Equal(t, "mytest._http._tcp.local.", announced.Answer[0].(*dns.PTR).Ptr)
}

func assertGoodbye(t *testing.T, m *dns.Msg) {
	t.Helper()
	require.NotNil(t, m)
	require.NotEmpty(t, m.Answer)
	for _, rr := range m.Answer {
		assert.Zero(t, rr.Header().Ttl, rr.String())
	}
}

// assertServiceGoodbye checks the goodbye withdraws the service records and
// leaves the host address alone.
func assertServiceGoodbye(t *testing.T, m *dns.Msg) {
	t.Helper()
	assertGoodbye(t, m)
	types := map[uint16]bool{}
	for _, rr := range m.Answer {
		types[rr.Header().Rrtype] = true
	}
	assert.Equal(t, map[uint16]bool{dns.TypePTR: true, dns.TypeSRV: true, dns.TypeTXT: true}, types)
}

func TestDestroyWithoutUnregisterWithdraws(t *testing.T) {
	h := startHarness(t)
	handle := registerService(t, h)
	before := len(h.announcer.Sent())

	require.NoError(t, handle.Destroy())

	assert.Empty(t, h.r.zone.Records(question("_http._tcp.local.", dns.TypePTR)))
	sent := h.announcer.Sent()
	require.Len(t, sent, before+1)
	assertServiceGoodbye(t, sent[len(sent)-1])
	assert.IsType(t, &dns.PTR{}, sent[len(sent)-1].Answer[0])

	addr, err := h.r.Lookup(context.Background(), "box.local")
	require.NoError(t, err)
	assert.Equal(t, hostAddr, addr)

	assert.ErrorIs(t, handle.Destroy(), ErrServiceDestroyed)
	assert.ErrorIs(t, handle.Unregister(), ErrServiceDestroyed)
}

func TestUnregisterThenDestroy(t *testing.T) {
	h := startHarness(t)
	handle := registerService(t, h)

	require.NoError(t, handle.Unregister())
	assert.False(t, handle.(*Service).Registered())
	assert.Empty(t, h.r.zone.Records(question("_http._tcp.local.", dns.TypePTR)))
	assertServiceGoodbye(t, h.announcer.last())
	count := len(h.announcer.Sent())

	require.NoError(t, handle.Unregister())
	require.NoError(t, handle.Destroy())
	assert.Len(t, h.announcer.Sent(), count, "removal announced once")
}

func TestStop(t *testing.T) {
	h := startHarness(t)
	handle := registerService(t, h)

	require.NoError(t, h.r.Stop())
	assert.Equal(t, 1, h.server.shutdowns)
	assert.True(t, h.announcer.closed)
	assert.False(t, handle.(*Service).Registered())

	sent := h.announcer.Sent()
	require.GreaterOrEqual(t, len(sent), 2)
	assertServiceGoodbye(t, sent[len(sent)-2])
	assertGoodbye(t, sent[len(sent)-1])
	assert.IsType(t, &dns.A{}, sent[len(sent)-1].Answer[0])

	assert.ErrorIs(t, h.r.SetHostname("box.local", hostAddr), ErrStopped)
	_, err := h.r.Lookup(context.Background(), "box.local")
	assert.ErrorIs(t, err, ErrStopped)
	require.NoError(t, handle.Destroy())

	require.NoError(t, h.r.Stop())
	assert.Equal(t, 1, h.server.shutdowns)
}

func TestLookup(t *testing.T) {
	t.Run("own host from the zone", func(t *testing.T) {
		h := startHarness(t)
		require.NoError(t, h.r.SetHostname("box.local", hostAddr))

		addr, err := h.r.Lookup(context.Background(), "box.local")
		require.NoError(t, err)
		assert.Equal(t, hostAddr, addr)
	})

	t.Run("other host over the link", func(t *testing.T) {
		h := startHarness(t)
		require.NoError(t, h.r.SetHostname("box.local", hostAddr))

		noise := wire.Announcement([]dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: "printer.local.", Rrtype: dns.TypeA, Class: dns.ClassINET},
			A:   net.ParseIP("192.168.1.50"),
		}})
		reply := wire.Announcement([]dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: "mysmartwifi.local.", Rrtype: dns.TypeA, Class: dns.ClassINET},
			A:   net.ParseIP("192.168.1.1"),
		}})
		q := newFakeConn(noise, reply)
		h.dials <- q

		addr, err := h.r.Lookup(context.Background(), "mysmartwifi.local")
		require.NoError(t, err)
		assert.Equal(t, "192.168.1.1", addr.String())

		sent := q.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "mysmartwifi.local.", sent[0].Question[0].Name)
		assert.True(t, q.closed)
	})

	t.Run("nobody answers", func(t *testing.T) {
		h := startHarness(t)
		h.dials <- newFakeConn()

		_, err := h.r.Lookup(context.Background(), "ghost.local")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("context cancelled", func(t *testing.T) {
		h := startHarness(t, WithLookupTimeout(time.Minute))
		h.dials <- newFakeConn()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := h.r.Lookup(ctx, "ghost.local")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
