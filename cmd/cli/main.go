package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"

	"svcmdns/network"
	"svcmdns/publish"

	log "github.com/sirupsen/logrus"
)

type env struct {
	start      publish.StartFunc
	interfaces publish.InterfaceSource
	hostname   func() (string, error)
	stdin      io.Reader
	output     io.Writer
}

func main() {
	ctx, stop := notifyShutdown(context.Background())
	code := run(ctx, os.Args[1:], env{
		start:      network.Starter(),
		interfaces: publish.SystemInterfaces,
		hostname:   os.Hostname,
		stdin:      os.Stdin,
		output:     os.Stdout,
	})
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, e env) int {
	cfg, err := parseArgs(args, e.output)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(e.output, err)
		}
		fmt.Fprintln(e.output, usageLine)
		return 1
	}
	if cfg.debug {
		log.SetLevel(log.TraceLevel)
	}

	desc, err := cfg.descriptor()
	if err != nil {
		fmt.Fprintln(e.output, err)
		fmt.Fprintln(e.output, usageLine)
		return 1
	}

	plan, err := buildPlan(cfg, desc, e)
	if err != nil {
		if errors.Is(err, publish.ErrInterfaceQuery) {
			log.Errorf("⛔ cannot read network interfaces: %v", err)
		} else {
			log.Errorf("⛔ cannot find host address: %v", err)
		}
		fmt.Fprintln(e.output, usageLine)
		return 1
	}

	log.Infof("host     : %s", publish.HostName(plan.Host.Name))
	log.Infof("identity : %s", desc.Instance)
	log.Infof("type     : %s", desc.Type)
	log.Infof("ip       : %s", plan.Host.Addr)
	log.Infof("port     : %d", desc.Port)

	coord := publish.NewCoordinator(e.start)
	if cfg.interactive {
		err = interactive(ctx, coord, plan, cfg.lookup, e)
	} else {
		err = coord.Run(ctx, plan)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("🔻 terminated during startup")
			return 0
		}
		log.Errorf("⛔ %v", err)
		return 1
	}
	return 0
}

func buildPlan(cfg *config, desc *publish.ServiceDescriptor, e env) (publish.Plan, error) {
	label := cfg.hostname
	if label == "" {
		name, err := e.hostname()
		if err != nil {
			return publish.Plan{}, fmt.Errorf("hostname: %w", err)
		}
		label = publish.ShortHostname(name)
	}
	if label == "" {
		return publish.Plan{}, errors.New("empty hostname")
	}

	host := cfg.host
	if !host.IsValid() {
		var err error
		if host, err = publish.FindAddress(e.interfaces, publish.IPv4); err != nil {
			return publish.Plan{}, err
		}
	}

	extra := append([]netip.Addr(nil), cfg.aliases...)
	if cfg.ipv6 {
		v6, err := publish.FindAddress(e.interfaces, publish.IPv6)
		if err != nil {
			log.Warnf("⛔ no ipv6 address to advertise: %v", err)
		} else {
			extra = append(extra, v6)
		}
	}

	return publish.Plan{
		Host:    publish.HostIdentity{Name: label, Addr: host},
		Bind:    host,
		Extra:   extra,
		Service: desc,
	}, nil
}
