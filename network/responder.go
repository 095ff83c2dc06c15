package network

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"svcmdns/publish"
	"svcmdns/wire"

	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	ErrStopped          = errors.New("responder stopped")
	ErrNoHostname       = errors.New("hostname not set")
	ErrHostnameSet      = errors.New("hostname already set")
	ErrForeignOwner     = errors.New("record owner is not the host name")
	ErrNotFound         = errors.New("name not found")
	ErrServiceDestroyed = errors.New("service handle destroyed")
)

const defaultLookupTimeout = 2 * time.Second

type server interface {
	Shutdown() error
}

type conn interface {
	SendMessage(m *dns.Msg) error
	ReadMessages() <-chan *dns.Msg
	Close() error
}

type options struct {
	newServer     func(*mdns.Config) (server, error)
	listen        func(*net.Interface) (conn, error)
	dial          func(*net.Interface) (conn, error)
	interfaces    publish.InterfaceSource
	lookupTimeout time.Duration
}

type Option func(*options)

func withServer(f func(*mdns.Config) (server, error)) Option {
	return func(o *options) { o.newServer = f }
}

func withListener(f func(*net.Interface) (conn, error)) Option {
	return func(o *options) { o.listen = f }
}

func withDialer(f func(*net.Interface) (conn, error)) Option {
	return func(o *options) { o.dial = f }
}

// WithInterfaces sets the interface table used to map the bind address to
// an interface.
func WithInterfaces(src publish.InterfaceSource) Option {
	return func(o *options) { o.interfaces = src }
}

func WithLookupTimeout(d time.Duration) Option {
	return func(o *options) { o.lookupTimeout = d }
}

func defaultOptions() options {
	return options{
		newServer: func(c *mdns.Config) (server, error) {
			s, err := mdns.NewServer(c)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		listen: func(iface *net.Interface) (conn, error) {
			c, err := wire.Listen(iface)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		dial: func(iface *net.Interface) (conn, error) {
			c, err := wire.Dial(iface)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		interfaces:    publish.SystemInterfaces,
		lookupTimeout: defaultLookupTimeout,
	}
}

// Responder publishes a host and its services with hashicorp/mdns, which
// answers queries on its own goroutines.
type Responder struct {
	opts      options
	iface     *net.Interface
	zone      *zone
	server    server
	announcer conn

	mu      sync.Mutex // serializes Stop
	stopped atomic.Bool
}

// Starter adapts Start to the coordinator's StartFunc.
func Starter(opts ...Option) publish.StartFunc {
	return func(bind netip.Addr) (publish.Responder, error) {
		r, err := Start(bind, opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Start binds the responder to the interface owning bind, or to all
// multicast interfaces when bind is zero or not local.
func Start(bind netip.Addr, opts ...Option) (*Responder, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	iface := interfaceFor(o.interfaces, bind)
	bridgeStdLog()

	announcer, err := o.listen(iface)
	if err != nil {
		return nil, fmt.Errorf("open announcement socket: %w", err)
	}

	r := &Responder{
		opts:      o,
		iface:     iface,
		zone:      &zone{},
		announcer: announcer,
	}

	srv, err := o.newServer(&mdns.Config{
		Zone:  r.zone,
		Iface: iface,
	})
	if err != nil {
		announcer.Close()
		return nil, fmt.Errorf("start mdns server: %w", err)
	}
	r.server = srv

	where := "all interfaces"
	if iface != nil {
		where = iface.Name
	}
	log.Infof("🌱 responder listening on %s", where)
	return r, nil
}

var (
	bridgeOnce   sync.Once
	stdlogBridge *io.PipeWriter
)

// bridgeStdLog sends the standard library logger, which hashicorp/mdns
// writes to, into logrus at debug level.
func bridgeStdLog() {
	bridgeOnce.Do(func() {
		stdlogBridge = log.StandardLogger().WriterLevel(log.DebugLevel)
		stdlog.SetFlags(0)
		stdlog.SetOutput(stdlogBridge)
	})
}

func interfaceFor(src publish.InterfaceSource, bind netip.Addr) *net.Interface {
	if !bind.IsValid() || bind.IsUnspecified() {
		return nil
	}
	candidates, err := src()
	if err != nil {
		log.Warnf("⛔ cannot map %s to an interface: %v", bind, err)
		return nil
	}
	found, ok := lo.Find(candidates, func(c publish.Candidate) bool { return c.Addr == bind })
	if !ok {
		log.Warnf("⛔ %s is not a local address, using all interfaces", bind)
		return nil
	}
	iface, err := net.InterfaceByName(found.Name)
	if err != nil {
		log.Warnf("⛔ interface %s: %v", found.Name, err)
		return nil
	}
	return iface
}

// Stop withdraws everything still published, announcing its removal, then
// shuts the server down. Calling Stop again is a no-op.
func (r *Responder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped.Load() {
		return nil
	}

	var err error
	for _, s := range r.zone.activeServices() {
		err = multierr.Append(err, s.Unregister())
	}
	if rrs := r.zone.hostRecords(); len(rrs) > 0 {
		r.announce(wire.Goodbye(rrs))
	}

	r.stopped.Store(true)
	err = multierr.Combine(err, r.server.Shutdown(), r.announcer.Close())
	log.Info("👋 responder stopped")
	return err
}

func (r *Responder) checkRunning() error {
	if r.stopped.Load() {
		return ErrStopped
	}
	return nil
}
