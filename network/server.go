package network

import (
	"net"
	"net/netip"
	"strings"
	"sync"

	"svcmdns/publish"

	"github.com/miekg/dns"
	"github.com/samber/lo"
)

const cacheFlush = 1 << 15

// zone is what the mdns server answers from: the host's address records
// plus every registered service.
type zone struct {
	mu       sync.RWMutex
	host     string // fqdn, empty until SetHostname
	records  []dns.RR
	services []*Service
}

func (z *zone) Records(q dns.Question) []dns.RR {
	z.mu.RLock()
	defer z.mu.RUnlock()

	var rrs []dns.RR
	if z.host != "" && strings.EqualFold(q.Name, z.host) {
		rrs = append(rrs, lo.Filter(z.records, func(rr dns.RR, _ int) bool {
			return q.Qtype == dns.TypeANY || rr.Header().Rrtype == q.Qtype
		})...)
	}
	for _, s := range z.services {
		rrs = append(rrs, s.entry.Records(q)...)
	}
	return lo.UniqBy(rrs, rrKey)
}

// rrKey identifies a record by owner, type and data; the same address served
// by the host records and by a service only differs in class flags.
func rrKey(rr dns.RR) string {
	c := dns.Copy(rr)
	c.Header().Class &^= cacheFlush
	c.Header().Ttl = 0
	return c.String()
}

func (z *zone) setHost(fqdn string, rr dns.RR) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.host != "" {
		return ErrHostnameSet
	}
	z.host = fqdn
	z.records = []dns.RR{rr}
	return nil
}

func (z *zone) addRecord(rr dns.RR) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.host == "" {
		return ErrNoHostname
	}
	if !strings.EqualFold(rr.Header().Name, z.host) {
		return ErrForeignOwner
	}
	z.records = append(z.records, rr)
	return nil
}

// hostAddrs returns the host name and every address declared for it.
func (z *zone) hostAddrs() (string, []net.IP, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.host == "" {
		return "", nil, ErrNoHostname
	}
	return z.host, lo.FilterMap(z.records, func(rr dns.RR, _ int) (net.IP, bool) {
		addr, ok := publish.RecordAddr(rr)
		return net.IP(addr.AsSlice()), ok
	}), nil
}

func (z *zone) hostRecords() []dns.RR {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return append([]dns.RR(nil), z.records...)
}

// lookup answers for the host name itself, IPv4 first.
func (z *zone) lookup(fqdn string) (netip.Addr, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if z.host == "" || !strings.EqualFold(fqdn, z.host) {
		return netip.Addr{}, false
	}
	addrs := lo.FilterMap(z.records, func(rr dns.RR, _ int) (netip.Addr, bool) {
		return publish.RecordAddr(rr)
	})
	if v4, ok := lo.Find(addrs, netip.Addr.Is4); ok {
		return v4, true
	}
	if len(addrs) == 0 {
		return netip.Addr{}, false
	}
	return addrs[0], true
}

func (z *zone) addService(s *Service) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.services = append(z.services, s)
}

func (z *zone) removeService(s *Service) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.services = lo.Without(z.services, s)
}

func (z *zone) activeServices() []*Service {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return append([]*Service(nil), z.services...)
}
