// Package discovery implements link-local service discovery (spec §4.1):
// each agent advertises its own presence and browses for the complementary
// role over mDNS/DNS-SD, gated on holding a private-range address, and
// reconciles repeated browse results into peer_added/peer_updated/peer_gone
// events. No repo in the retrieval pack implements service discovery, so
// this package is grounded directly on spec §4.1/§6 and the advertise/
// browse shape hashicorp/mdns documents — the out-of-pack ecosystem choice
// named in SPEC_FULL.md's DOMAIN STACK table.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

// Service type names (spec §6): the controller advertises as
// "_controller._tcp" and browses for "_module._tcp", and vice versa.
const (
	ServiceController = "_controller._tcp"
	ServiceModule     = "_module._tcp"
)

// Peer is one advertisement observed on the wire, already stripped of mDNS
// framing down to the fields Registry/Transport care about (spec §6 TXT
// records).
type Peer struct {
	ID       string // TXT "id"
	Name     string // TXT "name" (empty for controller peers)
	Type     string // TXT "type"
	IP       string
	Port     int
	Instance string // raw service instance name, used as the dedup key
}

// EventKind discriminates discovery events (spec §4.1).
type EventKind string

const (
	EventPeerAdded   EventKind = "discovery.peer_added"
	EventPeerUpdated EventKind = "discovery.peer_updated"
	EventPeerGone    EventKind = "discovery.peer_gone"
)

// Event is one discovery transition. Only graceful withdrawal from the
// browse set produces EventPeerGone — an unresponsive advertisement alone
// never does (spec §4.1 "Reachability is judged by Health, not Discovery").
type Event struct {
	Kind EventKind
	Peer Peer
}

// Advertiser publishes this agent's own presence (spec §4.1/§6).
type Advertiser struct {
	server *mdns.Server
	log    zerolog.Logger
}

// AdvertiseOptions configures one service advertisement.
type AdvertiseOptions struct {
	Service  string // ServiceController or ServiceModule
	Instance string // stable instance name
	Host     string
	Port     int
	IP       net.IP
	TXT      []string
}

// Advertise registers one mDNS service advertisement and starts responding
// to browse queries for it. The caller must have already resolved a
// private-range IP (spec §4.1: "wait at startup until they hold a network
// address in a configured private range... never register with a loopback
// address").
func Advertise(opts AdvertiseOptions, log zerolog.Logger) (*Advertiser, error) {
	if opts.IP == nil || opts.IP.IsLoopback() {
		return nil, fmt.Errorf("discovery: refusing to advertise without a private-range IP")
	}
	svc, err := mdns.NewMDNSService(opts.Instance, opts.Service, "", "", opts.Port, []net.IP{opts.IP}, opts.TXT)
	if err != nil {
		return nil, fmt.Errorf("discovery: build service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("discovery: start server: %w", err)
	}
	log.Info().Str("service", opts.Service).Str("instance", opts.Instance).Str("ip", opts.IP.String()).Msg("advertising")
	return &Advertiser{server: server, log: log}, nil
}

// Close stops advertising.
func (a *Advertiser) Close() error {
	return a.server.Shutdown()
}

// MissStreakThreshold is how many consecutive polls an instance must be
// absent from before Browser treats it as gone. zeroconf-style libraries
// (the original controller's `python-zeroconf`) only fire a removal
// callback on an explicit goodbye/TTL=0 packet, never on a single empty
// poll; `hashicorp/mdns`'s one-shot Query exposes no such packet, so a
// miss-streak is the closest equivalent that still refuses to treat one
// dropped UDP multicast response as a withdrawal (spec §4.1).
const MissStreakThreshold = 3

// instanceState is what Browser tracks per discovered instance between
// polls: the last-seen advertisement and how many consecutive polls it has
// been missing from.
type instanceState struct {
	peer       Peer
	missStreak int
}

// Browser polls for advertisements of a complementary service type and
// diffs results against the previously-seen set to produce discovery
// events.
type Browser struct {
	service  string
	interval time.Duration
	events   chan Event
	log      zerolog.Logger
}

// NewBrowser creates a Browser for the given service type, polling at
// interval (spec §4.1 gives no explicit browse period; reuses the
// configured discovery retry interval).
func NewBrowser(service string, interval time.Duration, log zerolog.Logger) *Browser {
	return &Browser{
		service:  service,
		interval: interval,
		events:   make(chan Event, 64),
		log:      log.With().Str("component", "discovery.browser").Str("service", service).Logger(),
	}
}

// Events returns the channel discovery events are published on.
func (b *Browser) Events() <-chan Event { return b.events }

// Run polls until ctx is cancelled, diffing each poll's result set against
// the last one seen.
func (b *Browser) Run(ctx context.Context) {
	seen := make(map[string]*instanceState)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.poll(ctx, seen)
	for {
		select {
		case <-ctx.Done():
			close(b.events)
			return
		case <-ticker.C:
			b.poll(ctx, seen)
		}
	}
}

func (b *Browser) poll(ctx context.Context, seen map[string]*instanceState) {
	entriesCh := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	found := make(map[string]Peer)

	go func() {
		defer close(done)
		for e := range entriesCh {
			p := entryToPeer(e)
			if p.IP == "" || net.ParseIP(p.IP).IsLoopback() {
				continue
			}
			found[p.Instance] = p
		}
	}()

	params := &mdns.QueryParam{
		Service: b.service,
		Timeout: b.interval,
		Entries: entriesCh,
	}
	if err := mdns.Query(params); err != nil {
		b.log.Warn().Err(err).Msg("mdns query failed")
	}
	close(entriesCh)
	<-done

	for instance, p := range found {
		st, existed := seen[instance]
		if !existed {
			seen[instance] = &instanceState{peer: p}
			b.emit(Event{Kind: EventPeerAdded, Peer: p})
			continue
		}
		prev := st.peer
		st.peer = p
		st.missStreak = 0
		if prev != p {
			b.emit(Event{Kind: EventPeerUpdated, Peer: p})
		}
	}
	for instance, st := range seen {
		if _, stillThere := found[instance]; stillThere {
			continue
		}
		st.missStreak++
		if st.missStreak < MissStreakThreshold {
			continue
		}
		delete(seen, instance)
		b.emit(Event{Kind: EventPeerGone, Peer: st.peer})
	}
}

func (b *Browser) emit(e Event) {
	select {
	case b.events <- e:
	default:
		b.log.Warn().Str("instance", e.Peer.Instance).Msg("discovery event queue full, dropping")
	}
}

func entryToPeer(e *mdns.ServiceEntry) Peer {
	p := Peer{Instance: e.Name, Port: e.Port}
	if e.AddrV4 != nil {
		p.IP = e.AddrV4.String()
	} else if e.AddrV6 != nil {
		p.IP = e.AddrV6.String()
	}
	for _, field := range e.InfoFields {
		k, v := splitTXT(field)
		switch k {
		case "id":
			p.ID = v
		case "name":
			p.Name = v
		case "type":
			p.Type = v
		}
	}
	return p
}

func splitTXT(field string) (key, value string) {
	for i := 0; i < len(field); i++ {
		if field[i] == '=' {
			return field[:i], field[i+1:]
		}
	}
	return field, ""
}
