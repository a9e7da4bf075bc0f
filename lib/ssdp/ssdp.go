// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ssdp implements HTTP-over-UDP device discovery, as used to find
// UPnP InternetGatewayDevices on the local network.
package ssdp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

const (
	// MulticastAddr is the well-known SSDP multicast group.
	MulticastAddr = "239.255.255.250:1900"

	// SearchTargetIGD matches version 1 InternetGatewayDevices.
	SearchTargetIGD = "urn:schemas-upnp-org:device:InternetGatewayDevice:1"
	// SearchTargetIGD2 matches version 2 InternetGatewayDevices.
	SearchTargetIGD2 = "urn:schemas-upnp-org:device:InternetGatewayDevice:2"
	// SearchTargetAll matches every SSDP-capable device. Used as a
	// fallback for gateways that do not answer targeted searches.
	SearchTargetAll = "ssdp:all"

	defaultTimeout = time.Second
	readSlice      = 250 * time.Millisecond
)

// ErrNoDeviceFound is returned when the discovery window closes without a
// single usable response.
var ErrNoDeviceFound = errors.New("no UPnP device responded to discovery")

// A Response is one parsed SSDP advertisement.
type Response struct {
	// Location is the device description URL from the LOCATION header.
	Location *url.URL
	// SearchTarget is the ST header of the response.
	SearchTarget string
	// USN is the unique service name, when advertised.
	USN string
	// From is the address the response arrived from.
	From net.Addr
}

// Options control a discovery round. The zero value searches for
// InternetGatewayDevice:1 and :2 on all interfaces for one second.
type Options struct {
	// Timeout is the length of the collection window. Routers may reply
	// several times, so the full window is always waited out.
	Timeout time.Duration
	// SearchTargets overrides the device types to search for.
	SearchTargets []string
	// SourceAddress binds the local end of the search socket, when the
	// host is multihomed and a specific interface is wanted.
	SourceAddress net.IP
	// ReusePort binds the search socket to the SSDP group port instead
	// of an ephemeral one, so responses arrive on the same local port
	// the search was sent from. Some firewalls only pass replies
	// addressed to the exact sending port.
	ReusePort bool
	// Destination overrides the multicast group address. Tests point it
	// at a local responder.
	Destination string
}

func (opts *Options) withDefaults() Options {
	res := *opts
	if res.Timeout == 0 {
		res.Timeout = defaultTimeout
	}
	if len(res.SearchTargets) == 0 {
		res.SearchTargets = []string{SearchTargetIGD, SearchTargetIGD2}
	}
	if res.Destination == "" {
		res.Destination = MulticastAddr
	}
	return res
}

// Search sends an M-SEARCH request and collects responses until the window
// given by opts.Timeout has elapsed. Malformed responses are discarded.
// An empty result set is reported as ErrNoDeviceFound.
func Search(ctx context.Context, opts Options) ([]Response, error) {
	opts = opts.withDefaults()
	if opts.Timeout < 0 {
		return nil, errors.New("negative discovery timeout")
	}

	dst, err := net.ResolveUDPAddr("udp4", opts.Destination)
	if err != nil {
		return nil, errors.Wrap(err, "resolving SSDP destination")
	}

	socket, err := openSocket(opts, dst)
	if err != nil {
		return nil, errors.Wrap(err, "ssdp: opening socket")
	}
	defer socket.Close()

	metricSearches.Inc()

	mx := int(opts.Timeout / time.Second)
	if mx < 1 {
		mx = 1
	}
	for _, st := range opts.SearchTargets {
		search := searchRequest(opts.Destination, st, mx)
		l.Debugln("Sending search request for", st, "to", dst)
		if _, err := socket.WriteTo(search, dst); err != nil {
			if e, ok := err.(net.Error); !ok || !e.Timeout() {
				l.Debugln("SSDP: sending search request:", err)
			}
			return nil, errors.Wrap(err, "ssdp: sending search request")
		}
	}

	// Collect responses until the window closes or the context is
	// cancelled. The window is always waited out in full, a router is
	// free to answer more than once, but a steady stream of inbound
	// datagrams must not extend it: the end time is absolute and
	// checked on every iteration, not just when a read fails.
	end := time.Now().Add(opts.Timeout)
	var results []Response
	seen := make(map[string]bool)
	buf := make([]byte, 65536)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}
		slice := time.Until(end)
		if slice <= 0 {
			break
		}
		if slice > readSlice {
			slice = readSlice
		}
		if err := socket.SetReadDeadline(time.Now().Add(slice)); err != nil {
			l.Infoln("SSDP socket:", err)
			break
		}

		n, from, err := socket.ReadFrom(buf)
		if err != nil {
			if e, ok := err.(net.Error); ok && e.Timeout() {
				continue
			}
			l.Infoln("SSDP read:", err)
			break
		}

		resp, err := parseResponse(buf[:n], from)
		if err != nil {
			// Garbled or partial replies are expected on a best
			// effort UDP protocol, not fatal.
			metricMalformed.Inc()
			l.Debugln("SSDP: discarding response from", from, ":", err)
			continue
		}
		if seen[resp.Location.String()] {
			continue
		}
		seen[resp.Location.String()] = true
		metricResponses.Inc()
		results = append(results, *resp)
		l.Debugln("SSDP response from", from, "with location", resp.Location)
	}

	if len(results) == 0 {
		return nil, ErrNoDeviceFound
	}
	return results, nil
}

// openSocket creates the UDP socket used for the search. With ReusePort the
// socket is joined to the group port so responses arrive on the same local
// port the request left from; otherwise an ephemeral port is used.
func openSocket(opts Options, dst *net.UDPAddr) (net.PacketConn, error) {
	if opts.ReusePort {
		var intf *net.Interface
		if opts.SourceAddress != nil {
			var err error
			if intf, err = interfaceFor(opts.SourceAddress); err != nil {
				return nil, err
			}
		}
		conn, err := net.ListenMulticastUDP("udp4", intf, &net.UDPAddr{IP: dst.IP, Port: dst.Port})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	laddr := &net.UDPAddr{Port: 0}
	if opts.SourceAddress != nil {
		laddr.IP = opts.SourceAddress
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}
	if dst.IP.IsMulticast() {
		// Per the UPnP device architecture the search should not
		// leave the local network segment.
		if err := ipv4.NewPacketConn(conn).SetMulticastTTL(2); err != nil {
			l.Debugln("SSDP: setting multicast TTL:", err)
		}
	}
	return conn, nil
}

// interfaceFor returns the interface carrying the given local address.
func interfaceFor(ip net.IP) (*net.Interface, error) {
	intfs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range intfs {
		addrs, err := intfs[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return &intfs[i], nil
			}
		}
	}
	return nil, errors.Errorf("no interface has address %s", ip)
}

// searchRequest renders the M-SEARCH request for one search target.
func searchRequest(host, searchTarget string, mx int) []byte {
	tpl := `M-SEARCH * HTTP/1.1
HOST: %s
ST: %s
MAN: "ssdp:discover"
MX: %d
USER-AGENT: mupnp/1.0

`
	searchStr := fmt.Sprintf(tpl, host, searchTarget, mx)
	return []byte(strings.ReplaceAll(searchStr, "\n", "\r\n") + "\r\n")
}

// parseResponse interprets one datagram as an HTTP-style SSDP response.
func parseResponse(resp []byte, from net.Addr) (*Response, error) {
	reader := bufio.NewReader(bytes.NewBuffer(resp))
	response, err := http.ReadResponse(reader, nil)
	if err != nil {
		return nil, err
	}
	response.Body.Close()

	location := response.Header.Get("Location")
	if location == "" {
		return nil, errors.New("no location specified")
	}
	locURL, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(err, "invalid location")
	}
	if locURL.Host == "" {
		return nil, errors.New("location not an absolute URL")
	}

	return &Response{
		Location:     locURL,
		SearchTarget: response.Header.Get("St"),
		USN:          response.Header.Get("Usn"),
		From:         from,
	}, nil
}
