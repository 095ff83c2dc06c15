package publish

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoInterface    = errors.New("no usable multicast interface")
	ErrInterfaceQuery = errors.New("interface query failed")
)

type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

func (f Family) matches(addr netip.Addr) bool {
	if f == IPv6 {
		return addr.Is6() && !addr.Is4In6()
	}
	return addr.Is4() || addr.Is4In6()
}

// Candidate is one (interface, address) pair as reported by the OS.
type Candidate struct {
	Name      string
	Up        bool
	Loopback  bool
	Multicast bool
	Addr      netip.Addr
}

func (c Candidate) usable() bool {
	return c.Up && !c.Loopback && c.Multicast && c.Addr.IsValid() && !c.Addr.IsLoopback()
}

// InterfaceSource lists candidates in OS enumeration order.
type InterfaceSource func() ([]Candidate, error)

// SystemInterfaces reads the live interface table.
func SystemInterfaces() ([]Candidate, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			log.Tracef("⛔ skipping %s: %v", iface.Name, err)
			continue
		}
		candidates = append(candidates, lo.FilterMap(addrs, func(a net.Addr, _ int) (Candidate, bool) {
			ip, ok := addrIP(a)
			if !ok {
				return Candidate{}, false
			}
			return Candidate{
				Name:      iface.Name,
				Up:        iface.Flags&net.FlagUp != 0,
				Loopback:  iface.Flags&net.FlagLoopback != 0,
				Multicast: iface.Flags&net.FlagMulticast != 0,
				Addr:      ip,
			}, true
		})...)
	}
	return candidates, nil
}

func addrIP(a net.Addr) (netip.Addr, bool) {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// FindAddress returns the address of the first up, non-loopback,
// multicast-capable interface carrying an address of the given family.
func FindAddress(src InterfaceSource, fam Family) (netip.Addr, error) {
	candidates, err := src()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrInterfaceQuery, err)
	}

	found, ok := lo.Find(candidates, func(c Candidate) bool {
		return c.usable() && fam.matches(c.Addr)
	})
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w (%s)", ErrNoInterface, fam)
	}

	log.Tracef("🔎 selected %s address %s on %s", fam, found.Addr, found.Name)
	return found.Addr.Unmap().WithZone(""), nil
}
