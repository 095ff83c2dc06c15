package publish

import (
	"context"
	"net/netip"

	"github.com/miekg/dns"
)

// StartFunc starts a Responder, optionally bound to addr (zero means any).
type StartFunc func(bind netip.Addr) (Responder, error)

// Responder is the multicast responder engine the coordinator drives. It
// owns packet I/O and runs its own goroutines; all methods are safe for
// concurrent use.
type Responder interface {
	// SetHostname declares the host identity. It must precede AddRecord
	// and RegisterService.
	SetHostname(name string, addr netip.Addr) error
	// AddRecord takes ownership of an A or AAAA record for the host name.
	AddRecord(rr dns.RR) error
	RegisterService(svc *ServiceDescriptor) (ServiceHandle, error)
	Lookup(ctx context.Context, name string) (netip.Addr, error)
	Stop() error
}

// ServiceHandle is the only capability kept for a registered service.
//
// Unregister withdraws the service from future answers and announces its
// removal. Destroy releases the handle; on a handle that is still
// registered it unregisters first, so removal is announced either way.
// Any call on a destroyed handle fails.
type ServiceHandle interface {
	Unregister() error
	Destroy() error
}
