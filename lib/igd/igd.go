// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package igd retrieves and validates InternetGatewayDevice descriptions,
// turning SSDP discovery results into a usable control session.
package igd

import (
	"context"
	"encoding/xml"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackpal/gateway"
	"github.com/pkg/errors"
)

const (
	wanIPConnectionPrefix  = "urn:schemas-upnp-org:service:WANIPConnection:"
	wanPPPConnectionPrefix = "urn:schemas-upnp-org:service:WANPPPConnection:"
	wanCIFPrefix           = "urn:schemas-upnp-org:service:WANCommonInterfaceConfig:"
)

// ErrNoValidIGD is returned when none of the discovered candidates
// describes both a WAN connection service and a common interface
// configuration service.
var ErrNoValidIGD = errors.New("no usable InternetGatewayDevice found")

var httpClient = &http.Client{Timeout: 10 * time.Second}

type upnpService struct {
	ID         string `xml:"serviceId"`
	Type       string `xml:"serviceType"`
	ControlURL string `xml:"controlURL"`
}

type upnpDevice struct {
	DeviceType   string        `xml:"deviceType"`
	FriendlyName string        `xml:"friendlyName"`
	UDN          string        `xml:"UDN"`
	Devices      []upnpDevice  `xml:"deviceList>device"`
	Services     []upnpService `xml:"serviceList>service"`
}

type upnpRoot struct {
	URLBase string     `xml:"URLBase"`
	Device  upnpDevice `xml:"device"`
}

// A Session is the validated connection state for one gateway. It is
// immutable; re-discovery produces a new Session rather than mutating an
// existing one.
type Session struct {
	// ControlURL accepts SOAP requests for the WAN connection service.
	ControlURL string
	// ServiceType is the URN of the WAN connection service, either
	// WANIPConnection or WANPPPConnection.
	ServiceType string
	// ControlURLCIF accepts SOAP requests for the common interface
	// configuration service.
	ControlURLCIF string
	// ServiceTypeCIF is the URN of the common interface configuration
	// service.
	ServiceTypeCIF string
	// URLBase is the base against which the description's relative URLs
	// were resolved.
	URLBase string
	// LocalIP is this host's address on the network facing the gateway.
	LocalIP net.IP
	// FriendlyName is the gateway's self-reported name, for logging.
	FriendlyName string
}

// FetchAndValidate retrieves each candidate's description in order and
// returns a session for the first one advertising both required services.
func FetchAndValidate(ctx context.Context, locations []*url.URL) (*Session, error) {
	for _, location := range locations {
		session, err := fetch(ctx, location)
		if err != nil {
			l.Debugln("Skipping candidate", location, ":", err)
			continue
		}
		l.Debugf("Validated gateway %q at %s", session.FriendlyName, location)
		return session, nil
	}
	return nil, ErrNoValidIGD
}

func fetch(ctx context.Context, location *url.URL) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching device description")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, errors.New("bad status code: " + resp.Status)
	}

	session, err := parseDescription(location, resp.Body)
	if err != nil {
		return nil, err
	}

	// The description does not tell us our own address. Figure it out
	// from the network used to reach the gateway.
	localIP, err := localIPTo(ctx, location)
	if err != nil {
		return nil, errors.Wrap(err, "determining local IP")
	}
	session.LocalIP = localIP

	return session, nil
}

// parseDescription reads a device description and extracts the control
// URLs and service types for the WAN connection and common interface
// configuration services.
func parseDescription(location *url.URL, r io.Reader) (*Session, error) {
	var root upnpRoot
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, errors.Wrap(err, "parsing device description")
	}

	base := location
	if root.URLBase != "" {
		parsed, err := url.Parse(root.URLBase)
		if err == nil && parsed.Host != "" {
			base = parsed
		} else {
			l.Debugln("Ignoring unparseable URLBase", root.URLBase)
		}
	}

	conn := findService(root.Device, wanIPConnectionPrefix, wanPPPConnectionPrefix)
	if conn == nil {
		return nil, errors.New("no WANIPConnection or WANPPPConnection service")
	}
	cif := findService(root.Device, wanCIFPrefix)
	if cif == nil {
		return nil, errors.New("no WANCommonInterfaceConfig service")
	}

	return &Session{
		ControlURL:     resolveControlURL(base, conn.ControlURL),
		ServiceType:    conn.Type,
		ControlURLCIF:  resolveControlURL(base, cif.ControlURL),
		ServiceTypeCIF: cif.Type,
		URLBase:        base.Scheme + "://" + base.Host,
		FriendlyName:   root.Device.FriendlyName,
	}, nil
}

// findService walks the nested device tree depth-first for the first
// service whose type matches one of the given prefixes and that has a
// control URL.
func findService(device upnpDevice, prefixes ...string) *upnpService {
	for _, service := range device.Services {
		for _, prefix := range prefixes {
			if strings.HasPrefix(service.Type, prefix) && service.ControlURL != "" {
				return &service
			}
		}
	}
	for _, child := range device.Devices {
		if found := findService(child, prefixes...); found != nil {
			return found
		}
	}
	return nil
}

// resolveControlURL resolves a possibly relative control URL against the
// description's base URL.
func resolveControlURL(base *url.URL, controlURL string) string {
	ref, err := url.Parse(controlURL)
	if err != nil {
		return base.String() + "/" + strings.TrimPrefix(controlURL, "/")
	}
	return base.ResolveReference(ref).String()
}

// localIPTo returns the local address of the network used to route toward
// the given host. We do this in a fairly roundabout way by connecting to
// the gateway and checking the address of the local end of the socket,
// falling back to the interface whose subnet holds the default gateway.
func localIPTo(ctx context.Context, location *url.URL) (net.IP, error) {
	dialCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", location.Host)
	if err == nil {
		defer conn.Close()
		host, _, err := net.SplitHostPort(conn.LocalAddr().String())
		if err != nil {
			return nil, err
		}
		return net.ParseIP(host), nil
	}
	l.Debugln("Local IP probe dial failed:", err)

	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, errors.Wrap(err, "discovering default gateway")
	}
	return interfaceIPFor(gw)
}

// interfaceIPFor returns the address of the up interface whose subnet
// contains ip.
func interfaceIPFor(ip net.IP) (net.IP, error) {
	intfs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, intf := range intfs {
		if intf.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := intf.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ipNet.Contains(ip) {
				return ipNet.IP, nil
			}
		}
	}
	return nil, errors.Errorf("no interface routes %s", ip)
}
