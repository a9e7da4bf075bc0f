// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package mupnp

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rgaufman/mupnp/lib/igd"
)

// fakeGateway is an in-memory IGD: it serves a device description and
// implements the WANIPConnection and WANCommonInterfaceConfig actions the
// client uses, against an in-memory port mapping table.
type fakeGateway struct {
	srv       *httptest.Server
	soapCalls atomic.Int32
	badStats  bool
	badUptime bool

	mut      sync.Mutex
	mappings []fakeMapping
}

type fakeMapping struct {
	externalPort   int
	internalPort   int
	protocol       string
	internalClient string
	description    string
	lease          int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{}
	mux := http.NewServeMux()
	mux.HandleFunc("/rootDesc.xml", g.describe)
	mux.HandleFunc("/ctl", g.control)
	mux.HandleFunc("/ctlCIF", g.control)
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) descURL() string {
	return g.srv.URL + "/rootDesc.xml"
}

// session returns the session Discover would have produced, for tests
// that bind a client directly.
func (g *fakeGateway) session() *igd.Session {
	return &igd.Session{
		ControlURL:     g.srv.URL + "/ctl",
		ServiceType:    "urn:schemas-upnp-org:service:WANIPConnection:1",
		ControlURLCIF:  g.srv.URL + "/ctlCIF",
		ServiceTypeCIF: "urn:schemas-upnp-org:service:WANCommonInterfaceConfig:1",
		URLBase:        g.srv.URL,
		LocalIP:        net.IPv4(127, 0, 0, 1),
		FriendlyName:   "Fake Gateway",
	}
}

func (g *fakeGateway) describe(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<URLBase>%s</URLBase>
<device>
<deviceType>urn:schemas-upnp-org:device:InternetGatewayDevice:1</deviceType>
<friendlyName>Fake Gateway</friendlyName>
<deviceList>
<device>
<deviceType>urn:schemas-upnp-org:device:WANDevice:1</deviceType>
<serviceList>
<service>
<serviceType>urn:schemas-upnp-org:service:WANCommonInterfaceConfig:1</serviceType>
<serviceId>urn:upnp-org:serviceId:WANCommonIFC1</serviceId>
<controlURL>/ctlCIF</controlURL>
</service>
</serviceList>
<deviceList>
<device>
<deviceType>urn:schemas-upnp-org:device:WANConnectionDevice:1</deviceType>
<serviceList>
<service>
<serviceType>urn:schemas-upnp-org:service:WANIPConnection:1</serviceType>
<serviceId>urn:upnp-org:serviceId:WANIPConn1</serviceId>
<controlURL>/ctl</controlURL>
</service>
</serviceList>
</device>
</deviceList>
</device>
</deviceList>
</device>
</root>`, g.srv.URL)
}

func (g *fakeGateway) control(w http.ResponseWriter, r *http.Request) {
	g.soapCalls.Add(1)

	body, _ := io.ReadAll(r.Body)
	action := r.Header.Get("SOAPAction")
	action = strings.Trim(action, `"`)
	if idx := strings.Index(action, "#"); idx >= 0 {
		action = action[idx+1:]
	}

	switch action {
	case "GetExternalIPAddress":
		g.respond(w, action, "<NewExternalIPAddress>203.0.113.9</NewExternalIPAddress>")
	case "GetStatusInfo":
		uptime := "3600"
		if g.badUptime {
			uptime = "soon"
		}
		g.respond(w, action, "<NewConnectionStatus>Connected</NewConnectionStatus><NewLastConnectionError>ERROR_NONE</NewLastConnectionError><NewUptime>"+uptime+"</NewUptime>")
	case "GetConnectionTypeInfo":
		g.respond(w, action, "<NewConnectionType>IP_Routed</NewConnectionType><NewPossibleConnectionTypes>IP_Routed</NewPossibleConnectionTypes>")
	case "GetLinkLayerMaxBitRates":
		g.respond(w, action, "<NewDownstreamMaxBitRate>100000000</NewDownstreamMaxBitRate><NewUpstreamMaxBitRate>40000000</NewUpstreamMaxBitRate>")
	case "GetTotalBytesSent":
		g.statistic(w, action, "NewTotalBytesSent", 1234567)
	case "GetTotalBytesReceived":
		g.statistic(w, action, "NewTotalBytesReceived", 7654321)
	case "GetTotalPacketsSent":
		g.statistic(w, action, "NewTotalPacketsSent", 1000)
	case "GetTotalPacketsReceived":
		g.statistic(w, action, "NewTotalPacketsReceived", 2000)
	case "AddPortMapping":
		g.addMapping(w, action, string(body))
	case "DeletePortMapping":
		g.deleteMapping(w, action, string(body))
	case "GetSpecificPortMappingEntry":
		g.specificMapping(w, action, string(body))
	case "GetGenericPortMappingEntry":
		g.genericMapping(w, action, string(body))
	default:
		g.fault(w, 401)
	}
}

func (g *fakeGateway) addMapping(w http.ResponseWriter, action, body string) {
	m := fakeMapping{
		internalClient: argVal(body, "NewInternalClient"),
		description:    argVal(body, "NewPortMappingDescription"),
		protocol:       argVal(body, "NewProtocol"),
	}
	m.externalPort, _ = strconv.Atoi(argVal(body, "NewExternalPort"))
	m.internalPort, _ = strconv.Atoi(argVal(body, "NewInternalPort"))
	m.lease, _ = strconv.Atoi(argVal(body, "NewLeaseDuration"))

	g.mut.Lock()
	replaced := false
	for i, old := range g.mappings {
		if old.externalPort == m.externalPort && old.protocol == m.protocol {
			g.mappings[i] = m
			replaced = true
		}
	}
	if !replaced {
		g.mappings = append(g.mappings, m)
	}
	g.mut.Unlock()

	g.respond(w, action, "")
}

func (g *fakeGateway) deleteMapping(w http.ResponseWriter, action, body string) {
	port, _ := strconv.Atoi(argVal(body, "NewExternalPort"))
	protocol := argVal(body, "NewProtocol")

	g.mut.Lock()
	kept := g.mappings[:0]
	found := false
	for _, m := range g.mappings {
		if m.externalPort == port && m.protocol == protocol {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	g.mappings = kept
	g.mut.Unlock()

	if !found {
		g.fault(w, 714)
		return
	}
	g.respond(w, action, "")
}

func (g *fakeGateway) specificMapping(w http.ResponseWriter, action, body string) {
	port, _ := strconv.Atoi(argVal(body, "NewExternalPort"))
	protocol := argVal(body, "NewProtocol")

	g.mut.Lock()
	defer g.mut.Unlock()
	for _, m := range g.mappings {
		if m.externalPort == port && m.protocol == protocol {
			g.respond(w, action, mappingArgs(m, false))
			return
		}
	}
	g.fault(w, 714)
}

func (g *fakeGateway) genericMapping(w http.ResponseWriter, action, body string) {
	index, _ := strconv.Atoi(argVal(body, "NewPortMappingIndex"))

	g.mut.Lock()
	defer g.mut.Unlock()
	if index < 0 || index >= len(g.mappings) {
		g.fault(w, 713)
		return
	}
	g.respond(w, action, mappingArgs(g.mappings[index], true))
}

func (g *fakeGateway) statistic(w http.ResponseWriter, action, field string, value int) {
	if g.badStats {
		value = -1
	}
	g.respond(w, action, fmt.Sprintf("<%s>%d</%s>", field, value, field))
}

func (g *fakeGateway) respond(w http.ResponseWriter, action, inner string) {
	fmt.Fprintf(w, `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<u:%sResponse xmlns:u="urn:schemas-upnp-org:service:WANIPConnection:1">%s</u:%sResponse>
</s:Body>
</s:Envelope>`, action, inner, action)
}

func (g *fakeGateway) fault(w http.ResponseWriter, code int) {
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<s:Fault>
<faultcode>s:Client</faultcode>
<faultstring>UPnPError</faultstring>
<detail>
<UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
<errorCode>%d</errorCode>
</UPnPError>
</detail>
</s:Fault>
</s:Body>
</s:Envelope>`, code)
}

func mappingArgs(m fakeMapping, includeKey bool) string {
	var b strings.Builder
	if includeKey {
		fmt.Fprintf(&b, "<NewRemoteHost></NewRemoteHost><NewExternalPort>%d</NewExternalPort><NewProtocol>%s</NewProtocol>", m.externalPort, m.protocol)
	}
	fmt.Fprintf(&b, "<NewInternalPort>%d</NewInternalPort><NewInternalClient>%s</NewInternalClient><NewEnabled>1</NewEnabled><NewPortMappingDescription>%s</NewPortMappingDescription><NewLeaseDuration>%d</NewLeaseDuration>",
		m.internalPort, m.internalClient, m.description, m.lease)
	return b.String()
}

func argVal(body, name string) string {
	open := "<" + name + ">"
	closing := "</" + name + ">"
	start := strings.Index(body, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(body[start:], closing)
	if end < 0 {
		return ""
	}
	return body[start : start+end]
}

// startSSDPResponder runs a fake SSDP endpoint on localhost that answers
// every M-SEARCH with the given description location, after an optional
// delay. It returns the address to point Config.SSDPAddr at.
func startSSDPResponder(t *testing.T, location string, delay time.Duration, searches *atomic.Int32) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	response := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"LOCATION: " + location + "\r\n" +
		"ST: urn:schemas-upnp-org:device:InternetGatewayDevice:1\r\n" +
		"USN: uuid:fake::urn:schemas-upnp-org:device:InternetGatewayDevice:1\r\n" +
		"\r\n"

	go func() {
		buf := make([]byte, 65536)
		for {
			_, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if searches != nil {
				searches.Add(1)
			}
			go func(from *net.UDPAddr) {
				if delay > 0 {
					time.Sleep(delay)
				}
				conn.WriteToUDP([]byte(response), from)
			}(from)
		}
	}()
	return conn.LocalAddr().String()
}
