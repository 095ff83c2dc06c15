package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"svcmdns/publish"
)

const usageLine = "[host <ip>] <identity> <type> <port> <txt> [txt] ... [txt]"

var errUsage = errors.New("usage")

type config struct {
	debug       bool
	interactive bool
	ipv6        bool
	hostname    string
	lookup      string
	aliases     []netip.Addr

	// host is the operator override; zero means discover it.
	host     netip.Addr
	identity string
	svcType  string
	port     int
	txt      []string
}

type addrList []netip.Addr

func (l *addrList) String() string {
	return fmt.Sprint([]netip.Addr(*l))
}

func (l *addrList) Set(s string) error {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return err
	}
	*l = append(*l, addr)
	return nil
}

func parseArgs(args []string, output io.Writer) (*config, error) {
	cfg := &config{}
	var aliases addrList

	fs := flag.NewFlagSet("svcmdns", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "usage: svcmdns [flags] %s\n", usageLine)
		fs.PrintDefaults()
	}
	fs.BoolVar(&cfg.debug, "debug", false, "enable trace logging")
	fs.BoolVar(&cfg.interactive, "interactive", false, "step through publication with ENTER")
	fs.BoolVar(&cfg.ipv6, "ipv6", false, "also advertise the first usable IPv6 address")
	fs.StringVar(&cfg.hostname, "hostname", "", "host label to advertise instead of the system hostname")
	fs.StringVar(&cfg.lookup, "lookup", "", "name to resolve in interactive mode")
	fs.Var(&aliases, "alias", "extra address for the host name (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.aliases = aliases

	pos := fs.Args()
	if len(pos) > 0 && strings.EqualFold(pos[0], "host") {
		if len(pos) < 2 {
			return nil, fmt.Errorf("%w: host needs an address", errUsage)
		}
		addr, err := netip.ParseAddr(pos[1])
		if err != nil {
			return nil, fmt.Errorf("%w: host %q: %v", errUsage, pos[1], err)
		}
		addr = addr.Unmap()
		if !addr.Is4() {
			return nil, fmt.Errorf("%w: host address %s is not IPv4", errUsage, addr)
		}
		if addr.IsUnspecified() {
			return nil, fmt.Errorf("%w: host address %s is unspecified", errUsage, addr)
		}
		cfg.host = addr
		pos = pos[2:]
	}

	if len(pos) < 4 {
		return nil, fmt.Errorf("%w: need identity, type, port and at least one txt", errUsage)
	}

	port, err := strconv.Atoi(pos[2])
	if err != nil {
		return nil, fmt.Errorf("%w: port %q is not a number", errUsage, pos[2])
	}
	cfg.identity, cfg.svcType, cfg.port = pos[0], pos[1], port
	cfg.txt = pos[3:]
	return cfg, nil
}

func (c *config) descriptor() (*publish.ServiceDescriptor, error) {
	return publish.NewServiceDescriptor(c.identity, c.svcType, c.port, c.txt)
}
