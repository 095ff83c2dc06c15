package wire

import (
	"github.com/miekg/dns"
)

// Announcement builds an unsolicited authoritative response carrying rrs.
func Announcement(rrs []dns.RR) *dns.Msg {
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.Answer = rrs
	return m
}

// Goodbye is an announcement of copies of rrs with a zero TTL, telling
// caches to drop them. rrs are not modified.
func Goodbye(rrs []dns.RR) *dns.Msg {
	bye := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		c := dns.Copy(rr)
		c.Header().Ttl = 0
		bye = append(bye, c)
	}
	return Announcement(bye)
}

// Query builds a one-shot multicast question. The id is zero as mDNS
// responders ignore it.
func Query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.Id = 0
	m.RecursionDesired = false
	return m
}

func Encode(m *dns.Msg) ([]byte, error) {
	return m.Pack()
}

func Decode(raw []byte) (*dns.Msg, error) {
	m := new(dns.Msg)
	if err := m.Unpack(raw); err != nil {
		return nil, err
	}
	return m, nil
}
