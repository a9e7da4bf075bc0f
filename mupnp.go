// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mupnp is a client for the UPnP Internet Gateway Device protocol
// suite: it discovers a NAT gateway on the local network, reports its
// public address and link statistics, and manages port forwarding rules.
package mupnp

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/rgaufman/mupnp/lib/igd"
	"github.com/rgaufman/mupnp/lib/soap"
	"github.com/rgaufman/mupnp/lib/ssdp"
)

// Protocol is the transport protocol of a port mapping.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// Config controls discovery. The zero value searches for one second on
// the standard SSDP multicast group.
type Config struct {
	// DiscoverTimeout is the length of the SSDP collection window.
	// Default one second.
	DiscoverTimeout time.Duration
	// SearchTargets overrides the SSDP search targets, for gateways
	// that only answer ssdp:all.
	SearchTargets []string
	// SourceAddress binds the discovery socket to a specific local
	// address on multihomed hosts.
	SourceAddress net.IP
	// ReusePort sends the search from the port responses are received
	// on. Needed behind firewalls that only pass replies to the exact
	// sending port.
	ReusePort bool
	// SSDPAddr overrides the SSDP group address. Tests point it at a
	// local responder.
	SSDPAddr string
}

// A Client is a UPnP IGD control point. It is either unbound (no gateway
// session) or bound to the single gateway that discovery validated. All
// operations except Discover and DiscoverAsync require a bound session;
// they wait for any discovery in flight before proceeding.
type Client struct {
	cfg Config

	discoverGroup singleflight.Group

	mut     sync.RWMutex
	session *igd.Session
	pending chan struct{} // non-nil while discovery is in flight
}

// New returns an unbound Client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Discover performs SSDP discovery followed by description validation and
// binds the client to the first usable gateway. Calling it again replaces
// the session wholesale. Concurrent calls coalesce into the in-flight
// attempt and share its outcome.
func (c *Client) Discover(ctx context.Context) error {
	if c.cfg.DiscoverTimeout < 0 {
		return errors.Wrap(ErrInvalidArgument, "negative discovery timeout")
	}

	_, err, _ := c.discoverGroup.Do("discover", func() (interface{}, error) {
		done := make(chan struct{})
		c.mut.Lock()
		c.pending = done
		c.mut.Unlock()

		session, err := c.discover(ctx)

		c.mut.Lock()
		if err == nil {
			c.session = session
		}
		c.pending = nil
		c.mut.Unlock()
		close(done)

		return nil, err
	})
	return err
}

// DiscoverAsync starts discovery in the background. Operations invoked
// while it runs block until it finishes, then use the resulting session
// or fail with the discovery error's kind.
func (c *Client) DiscoverAsync(ctx context.Context) {
	go func() {
		if err := c.Discover(ctx); err != nil {
			l.Debugln("Background discovery:", err)
		}
	}()
}

func (c *Client) discover(ctx context.Context) (*igd.Session, error) {
	responses, err := ssdp.Search(ctx, ssdp.Options{
		Timeout:       c.cfg.DiscoverTimeout,
		SearchTargets: c.cfg.SearchTargets,
		SourceAddress: c.cfg.SourceAddress,
		ReusePort:     c.cfg.ReusePort,
		Destination:   c.cfg.SSDPAddr,
	})
	if err != nil {
		return nil, err
	}

	locations := make([]*url.URL, 0, len(responses))
	for _, resp := range responses {
		locations = append(locations, resp.Location)
	}

	return igd.FetchAndValidate(ctx, locations)
}

// acquireSession waits out any discovery in flight and returns the bound
// session, or ErrNotDiscovered.
func (c *Client) acquireSession() (*igd.Session, error) {
	c.mut.RLock()
	pending := c.pending
	c.mut.RUnlock()
	if pending != nil {
		<-pending
	}

	c.mut.RLock()
	session := c.session
	c.mut.RUnlock()
	if session == nil {
		return nil, ErrNotDiscovered
	}
	return session, nil
}

// ExternalIP returns the gateway's public IP address.
func (c *Client) ExternalIP(ctx context.Context) (string, error) {
	session, err := c.acquireSession()
	if err != nil {
		return "", err
	}
	values, err := soap.Invoke(ctx, session.ControlURL, session.ServiceType, "GetExternalIPAddress", nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(values.Get("NewExternalIPAddress")), nil
}

// RouterIP returns the gateway's LAN-side host, derived from the session
// without a network call.
func (c *Client) RouterIP() (string, error) {
	session, err := c.acquireSession()
	if err != nil {
		return "", err
	}
	host := strings.TrimPrefix(session.URLBase, "http://")
	host = strings.TrimPrefix(host, "https://")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host, nil
}

// StatusInfo is the gateway's connection state as reported by
// GetStatusInfo.
type StatusInfo struct {
	// ConnectionStatus is e.g. "Connected" or "Disconnected".
	ConnectionStatus string
	// LastConnectionError is "ERROR_NONE" when all is well.
	LastConnectionError string
	// Uptime is how long the connection has been up.
	Uptime time.Duration
}

// Status returns the gateway's connection status, last error and uptime.
func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	session, err := c.acquireSession()
	if err != nil {
		return nil, err
	}
	values, err := soap.Invoke(ctx, session.ControlURL, session.ServiceType, "GetStatusInfo", nil)
	if err != nil {
		return nil, err
	}

	// A gateway that garbles the uptime gets the same treatment as one
	// garbling a traffic counter.
	uptime, err := parseUint(values.Get("NewUptime"))
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		ConnectionStatus:    values.Get("NewConnectionStatus"),
		LastConnectionError: values.Get("NewLastConnectionError"),
		Uptime:              time.Duration(uptime) * time.Second,
	}, nil
}

// ConnectionType returns the gateway's connection type, e.g. "IP_Routed".
func (c *Client) ConnectionType(ctx context.Context) (string, error) {
	session, err := c.acquireSession()
	if err != nil {
		return "", err
	}
	values, err := soap.Invoke(ctx, session.ControlURL, session.ServiceType, "GetConnectionTypeInfo", nil)
	if err != nil {
		return "", err
	}
	return values.Get("NewConnectionType"), nil
}

// MaxLinkBitrates returns the downstream and upstream maximum link layer
// bitrates in bits per second.
func (c *Client) MaxLinkBitrates(ctx context.Context) (down, up uint64, err error) {
	session, err := c.acquireSession()
	if err != nil {
		return 0, 0, err
	}
	values, err := soap.Invoke(ctx, session.ControlURL, session.ServiceType, "GetLinkLayerMaxBitRates", nil)
	if err != nil {
		return 0, 0, err
	}

	down, derr := parseUint(values.Get("NewDownstreamMaxBitRate"))
	up, uerr := parseUint(values.Get("NewUpstreamMaxBitRate"))
	if derr != nil || uerr != nil {
		return 0, 0, ErrStatisticUnavailable
	}
	return down, up, nil
}
