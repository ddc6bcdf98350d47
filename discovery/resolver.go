// Package discovery resolves a moonletter relay on the local network via
// mDNS. It is used when the session config leaves the relay URL empty.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_moonletter._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultScanTimeout bounds one relay lookup.
	DefaultScanTimeout = 3 * time.Second
)

// ErrNoRelay indicates the scan window closed without finding a relay.
var ErrNoRelay = errors.New("discovery: no relay found")

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls the relay lookup.
type Config struct {
	Service     string
	Domain      string
	ScanTimeout time.Duration

	browseFn browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	return out
}

// Relay is one discovered relay endpoint.
type Relay struct {
	Name    string
	BaseURL string
}

// LookupRelay browses the LAN for relays and returns the first one by
// instance-name order, giving a deterministic pick when several answer.
func LookupRelay(ctx context.Context, config Config) (Relay, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return Relay{}, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	var relays []Relay
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				if relay, ok := parseEntry(entry); ok {
					relays = append(relays, relay)
				}
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return Relay{}, fmt.Errorf("browse for relays: %w", err)
	}

	<-scanCtx.Done()
	<-collectorDone

	if err := scanCtx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return Relay{}, err
	}
	if len(relays) == 0 {
		return Relay{}, ErrNoRelay
	}

	sort.Slice(relays, func(i, j int) bool {
		if relays[i].Name == relays[j].Name {
			return relays[i].BaseURL < relays[j].BaseURL
		}
		return relays[i].Name < relays[j].Name
	})
	return relays[0], nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	host := ""
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		host = ip.String()
		if ip.To4() != nil {
			break
		}
	}
	if host == "" {
		host = strings.TrimSuffix(entry.HostName, ".")
	}
	if host == "" || entry.Port <= 0 {
		return Relay{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = host
	}

	scheme := "http"
	for _, txt := range entry.Text {
		if txt == "tls=1" {
			scheme = "https"
		}
	}

	return Relay{
		Name:    name,
		BaseURL: fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, fmt.Sprint(entry.Port))),
	}, true
}
