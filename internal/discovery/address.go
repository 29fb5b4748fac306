package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// WaitForPrivateAddress blocks, retrying forever with backoff, until the
// host holds an IPv4 address inside one of cidrs (spec §4.1: "wait at
// startup until they hold a network address in a configured private range;
// retry-forever with backoff; never register with a loopback address").
func WaitForPrivateAddress(ctx context.Context, cidrs []string, retryInterval time.Duration, log zerolog.Logger) (net.IP, error) {
	nets, err := parseCIDRs(cidrs)
	if err != nil {
		return nil, err
	}
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}

	for {
		if ip := findPrivateAddress(nets); ip != nil {
			return ip, nil
		}
		log.Warn().Strs("cidrs", cidrs).Msg("no private-range address yet, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("discovery: parse private range %q: %w", c, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func findPrivateAddress(nets []*net.IPNet) net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		for _, n := range nets {
			if n.Contains(ip4) {
				return ip4
			}
		}
	}
	return nil
}
