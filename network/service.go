package network

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"svcmdns/publish"
	"svcmdns/wire"

	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Service is the registration handle returned by RegisterService.
type Service struct {
	r           *Responder
	desc        *publish.ServiceDescriptor
	entry       *mdns.MDNSService
	serviceAddr string

	mu         sync.Mutex
	registered bool
	destroyed  bool
}

// RegisterService builds the DNS-SD records for desc under the declared host
// name and starts answering for them.
func (r *Responder) RegisterService(desc *publish.ServiceDescriptor) (publish.ServiceHandle, error) {
	if err := r.checkRunning(); err != nil {
		return nil, err
	}

	host, ips, err := r.zone.hostAddrs()
	if err != nil {
		return nil, err
	}
	if desc.Addr.IsValid() {
		ips = []net.IP{net.IP(desc.Addr.AsSlice())}
	}

	service, domain := desc.ServiceAndDomain()
	entry, err := mdns.NewMDNSService(desc.Instance, service, domain, host, desc.Port, ips, desc.Attributes())
	if err != nil {
		return nil, fmt.Errorf("build service records: %w", err)
	}

	s := &Service{
		r:           r,
		desc:        desc,
		entry:       entry,
		serviceAddr: dns.Fqdn(desc.Type),
		registered:  true,
	}
	r.zone.addService(s)
	log.Infof("📣 registered %s at %s:%d", desc.FullName(), host, desc.Port)

	r.announce(wire.Announcement(s.records()))
	return s, nil
}

// records is what a PTR query for the service type returns, minus the host's
// address records: those belong to the host and outlive the service.
func (s *Service) records() []dns.RR {
	rrs := s.entry.Records(dns.Question{Name: s.serviceAddr, Qtype: dns.TypePTR, Qclass: dns.ClassINET})
	return lo.Reject(rrs, func(rr dns.RR, _ int) bool {
		switch rr.(type) {
		case *dns.A, *dns.AAAA:
			return strings.EqualFold(rr.Header().Name, s.entry.HostName)
		}
		return false
	})
}

func (s *Service) Unregister() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrServiceDestroyed
	}
	s.unregister()
	return nil
}

func (s *Service) unregister() {
	if !s.registered {
		return
	}
	s.registered = false
	s.r.zone.removeService(s)
	s.r.announce(wire.Goodbye(s.records()))
	log.Infof("👋 unregistered %s", s.desc.FullName())
}

// Destroy releases the handle. A still registered service is unregistered
// first, so its removal is announced immediately.
func (s *Service) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrServiceDestroyed
	}
	s.unregister()
	s.destroyed = true
	return nil
}

func (s *Service) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}
