package network

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"svcmdns/publish"
	"svcmdns/wire"

	"github.com/miekg/dns"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Lookup resolves name from the local zone, falling back to a one-shot
// multicast query answered by other responders on the link.
func (r *Responder) Lookup(ctx context.Context, name string) (netip.Addr, error) {
	if err := r.checkRunning(); err != nil {
		return netip.Addr{}, err
	}

	fqdn := dns.Fqdn(name)
	if addr, ok := r.zone.lookup(fqdn); ok {
		return addr, nil
	}

	c, err := r.opts.dial(r.iface)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("open query socket: %w", err)
	}
	defer c.Close()

	replies := c.ReadMessages()
	if err := c.SendMessage(wire.Query(fqdn, dns.TypeA)); err != nil {
		return netip.Addr{}, fmt.Errorf("send query: %w", err)
	}

	timer := time.NewTimer(r.opts.lookupTimeout)
	defer timer.Stop()
	for {
		select {
		case m, ok := <-replies:
			if !ok {
				return netip.Addr{}, fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			if addr, found := answerFor(m, fqdn); found {
				log.Tracef("👀 %s is at %s", fqdn, addr)
				return addr, nil
			}
		case <-timer.C:
			return netip.Addr{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		case <-ctx.Done():
			return netip.Addr{}, ctx.Err()
		}
	}
}

func answerFor(m *dns.Msg, fqdn string) (netip.Addr, bool) {
	if !m.Response {
		return netip.Addr{}, false
	}
	rr, ok := lo.Find(lo.Flatten([][]dns.RR{m.Answer, m.Extra}), func(rr dns.RR) bool {
		return rr.Header().Rrtype == dns.TypeA && strings.EqualFold(rr.Header().Name, fqdn)
	})
	if !ok {
		return netip.Addr{}, false
	}
	return publish.RecordAddr(rr)
}
