package publish

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var ErrInvalidState = errors.New("invalid lifecycle state")

type State int

const (
	Unstarted State = iota
	ResponderUp
	HostSet
	Published
	Draining
	Stopped
)

var stateNames = [...]string{"UNSTARTED", "RESPONDER_UP", "HOST_SET", "PUBLISHED", "DRAINING", "STOPPED"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// HostIdentity is the name and primary address the host advertises.
type HostIdentity struct {
	Name string
	Addr netip.Addr
}

// Plan is everything one publication needs.
type Plan struct {
	Host HostIdentity
	// Bind is passed to the Responder's start; zero means any address.
	Bind    netip.Addr
	Extra   []netip.Addr
	Service *ServiceDescriptor
}

// Coordinator sequences a single publication from responder start to stop.
type Coordinator struct {
	start StartFunc

	mu        sync.Mutex
	state     State
	responder Responder
	handle    ServiceHandle
	host      HostIdentity
}

func NewCoordinator(start StartFunc) *Coordinator {
	return &Coordinator{start: start}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Publish starts the responder, declares the host, adds the extra records
// and registers the service. On failure the responder is stopped and the
// coordinator ends in Stopped.
func (c *Coordinator) Publish(ctx context.Context, plan Plan) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Unstarted {
		return fmt.Errorf("%w: publish from %s", ErrInvalidState, c.state)
	}
	if plan.Service == nil {
		return errors.New("no service to publish")
	}

	responder, err := c.start(plan.Bind)
	if err != nil {
		c.state = Stopped
		return fmt.Errorf("start responder: %w", err)
	}
	c.responder = responder
	c.state = ResponderUp
	log.Tracef("🌱 responder up (bind %v)", plan.Bind)

	if err := c.setup(ctx, plan); err != nil {
		if stopErr := c.responder.Stop(); stopErr != nil {
			log.Errorf("⛔ stopping responder after failed setup: %v", stopErr)
		}
		c.responder = nil
		c.state = Stopped
		return err
	}
	return nil
}

func (c *Coordinator) setup(ctx context.Context, plan Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := HostName(plan.Host.Name)
	if err := c.responder.SetHostname(name, plan.Host.Addr); err != nil {
		return fmt.Errorf("set hostname %s: %w", name, err)
	}
	c.host = HostIdentity{Name: name, Addr: plan.Host.Addr}
	c.state = HostSet
	log.Infof("🏠 host %s at %s", name, plan.Host.Addr)

	for _, addr := range plan.Extra {
		rr, err := NewAddressRecord(name, addr)
		if err != nil {
			return err
		}
		if err := c.responder.AddRecord(rr); err != nil {
			return fmt.Errorf("add record %s: %w", addr, err)
		}
		log.Infof("➕ extra address %s for %s", addr, name)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	handle, err := c.responder.RegisterService(plan.Service)
	if err != nil {
		return fmt.Errorf("register %s: %w", plan.Service.FullName(), err)
	}
	c.handle = handle
	c.state = Published
	log.Infof("📣 published %s on port %d %v", plan.Service.FullName(), plan.Service.Port, plan.Service.Attributes())
	return nil
}

// Host returns the declared host identity.
func (c *Coordinator) Host() HostIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// Lookup resolves name through the running responder.
func (c *Coordinator) Lookup(ctx context.Context, name string) (netip.Addr, error) {
	c.mu.Lock()
	responder, state := c.responder, c.state
	c.mu.Unlock()

	if responder == nil || state < HostSet || state == Stopped {
		return netip.Addr{}, fmt.Errorf("%w: lookup in %s", ErrInvalidState, state)
	}
	return responder.Lookup(ctx, HostName(name))
}

// Withdraw unregisters and destroys the service, moving to Draining.
func (c *Coordinator) Withdraw() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Published {
		return fmt.Errorf("%w: withdraw from %s", ErrInvalidState, c.state)
	}
	return c.withdraw()
}

func (c *Coordinator) withdraw() error {
	c.state = Draining
	handle := c.handle
	c.handle = nil

	err := multierr.Append(handle.Unregister(), handle.Destroy())
	if err != nil {
		log.Errorf("⛔ withdrawing service: %v", err)
	} else {
		log.Info("👋 service withdrawn")
	}
	return err
}

// Stop withdraws the service if still published and stops the responder.
// Errors are reported but the coordinator always ends in Stopped.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch c.state {
	case Stopped:
		return nil
	case Unstarted:
		c.state = Stopped
		return nil
	case Published:
		err = c.withdraw()
	}

	if c.responder != nil {
		if stopErr := c.responder.Stop(); stopErr != nil {
			log.Errorf("⛔ stopping responder: %v", stopErr)
			err = multierr.Append(err, stopErr)
		}
		c.responder = nil
	}
	c.state = Stopped
	log.Info("🛑 responder stopped")
	return err
}

// Run publishes, blocks until ctx is done and then stops. Only a failed
// publication is returned; shutdown errors are logged.
func (c *Coordinator) Run(ctx context.Context, plan Plan) error {
	if err := c.Publish(ctx, plan); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info("🔻 termination requested")
	if err := c.Stop(); err != nil {
		log.Warnf("⛔ shutdown incomplete: %v", err)
	}
	return nil
}
