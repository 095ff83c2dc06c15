package network

import (
	"fmt"
	"net/netip"

	"svcmdns/publish"
	"svcmdns/wire"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

// SetHostname declares the host identity and announces its address. The
// name can be declared once.
func (r *Responder) SetHostname(name string, addr netip.Addr) error {
	if err := r.checkRunning(); err != nil {
		return err
	}

	rr, err := publish.NewAddressRecord(name, addr)
	if err != nil {
		return err
	}
	if err := r.zone.setHost(rr.Header().Name, rr); err != nil {
		return err
	}

	log.Infof("📣 broadcasting as host %s (%s)", rr.Header().Name, addr)
	r.announce(wire.Announcement([]dns.RR{rr}))
	return nil
}

// AddRecord adds another address for the declared host name.
func (r *Responder) AddRecord(rr dns.RR) error {
	if err := r.checkRunning(); err != nil {
		return err
	}

	switch rr.(type) {
	case *dns.A, *dns.AAAA:
	default:
		return fmt.Errorf("unsupported record type %s", dns.TypeToString[rr.Header().Rrtype])
	}
	if err := r.zone.addRecord(rr); err != nil {
		return err
	}

	log.Tracef("➕ %s", rr)
	r.announce(wire.Announcement([]dns.RR{rr}))
	return nil
}

// announce is best effort; the server keeps answering queries either way.
func (r *Responder) announce(m *dns.Msg) {
	if r.stopped.Load() || len(m.Answer) == 0 {
		return
	}
	if err := r.announcer.SendMessage(m); err != nil {
		log.Errorf("⛔ announcement failed: %v", err)
		return
	}
	log.Tracef("🔊 announced %d records (ttl %d)", len(m.Answer), m.Answer[0].Header().Ttl)
}
