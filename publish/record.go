package publish

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

const (
	LocalSuffix = "local"
	RecordTTL   = 120

	// cacheFlush marks a record as the unique owner's authoritative answer.
	cacheFlush = 1 << 15
)

// HostName appends the local-scope suffix to a host label, exactly once.
func HostName(label string) string {
	label = strings.TrimSuffix(label, ".")
	if strings.HasSuffix(strings.ToLower(label), "."+LocalSuffix) {
		return label
	}
	return label + "." + LocalSuffix
}

// ShortHostname reduces an OS hostname to its first label.
func ShortHostname(name string) string {
	name, _, _ = strings.Cut(name, ".")
	return name
}

// NewAddressRecord builds the A or AAAA record announcing addr under owner.
func NewAddressRecord(owner string, addr netip.Addr) (dns.RR, error) {
	if owner == "" {
		return nil, fmt.Errorf("empty record owner")
	}
	if !addr.IsValid() {
		return nil, fmt.Errorf("invalid address for %s", owner)
	}

	hdr := dns.RR_Header{
		Name:  dns.Fqdn(owner),
		Class: dns.ClassINET | cacheFlush,
		Ttl:   RecordTTL,
	}
	addr = addr.Unmap().WithZone("")
	if addr.Is4() {
		hdr.Rrtype = dns.TypeA
		return &dns.A{Hdr: hdr, A: net.IP(addr.AsSlice())}, nil
	}
	hdr.Rrtype = dns.TypeAAAA
	return &dns.AAAA{Hdr: hdr, AAAA: net.IP(addr.AsSlice())}, nil
}

// RecordAddr extracts the address carried by an A or AAAA record.
func RecordAddr(rr dns.RR) (netip.Addr, bool) {
	var ip net.IP
	switch v := rr.(type) {
	case *dns.A:
		ip = v.A
	case *dns.AAAA:
		ip = v.AAAA
	default:
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ip)
	return addr.Unmap(), ok
}
