package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"svcmdns/publish"

	log "github.com/sirupsen/logrus"
)

const lookupTimeout = 3 * time.Second

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// interactive walks the publication one ENTER at a time: publish, look up a
// name, withdraw the service, stop. A shutdown signal skips to the stop.
// Once stdin is exhausted only a signal advances.
func interactive(ctx context.Context, coord *publish.Coordinator, plan publish.Plan, lookup string, e env) error {
	lines := readLines(e.stdin)
	advance := func(prompt string) bool {
		fmt.Fprintf(e.output, "%s. press ENTER to continue\n", prompt)
		for {
			select {
			case _, ok := <-lines:
				if ok {
					return true
				}
				lines = nil
			case <-ctx.Done():
				return false
			}
		}
	}
	defer func() {
		if err := coord.Stop(); err != nil {
			log.Warnf("⛔ shutdown incomplete: %v", err)
		}
	}()

	if !advance("ready to publish") {
		return nil
	}
	if err := coord.Publish(ctx, plan); err != nil {
		return err
	}

	if lookup == "" {
		lookup = coord.Host().Name
	}
	if !advance(fmt.Sprintf("published, next: look up %s", publish.HostName(lookup))) {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	addr, err := coord.Lookup(lctx, lookup)
	cancel()
	if err != nil {
		fmt.Fprintf(e.output, "%s not found: %v\n", publish.HostName(lookup), err)
	} else {
		fmt.Fprintf(e.output, "%s is at %s\n", publish.HostName(lookup), addr)
	}

	if !advance("next: withdraw the service") {
		return nil
	}
	if err := coord.Withdraw(); err != nil {
		log.Warnf("⛔ withdraw: %v", err)
	}

	advance("service withdrawn, next: exit")
	return nil
}
