// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package soap implements the subset of SOAP 1.1 used to invoke UPnP
// actions against a gateway's control URL.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rgaufman/mupnp/lib/upnperr"
)

const envelopeTpl = `<?xml version="1.0" ?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body>%s</s:Body>
</s:Envelope>
`

var httpClient = &http.Client{Timeout: 10 * time.Second}

// An Arg is a single named action argument. Arguments are kept as an
// ordered list because the UPnP service descriptions define an argument
// order for the wire format, even though gateways are required to be
// order-tolerant.
type Arg struct {
	Name  string
	Value string
}

// Values holds the child elements of an action response, in document order.
type Values []Arg

// Get returns the value of the named element, or the empty string if the
// response did not carry it.
func (v Values) Get(name string) string {
	for _, arg := range v {
		if arg.Name == name {
			return arg.Value
		}
	}
	return ""
}

// A TransportError is a network or HTTP level failure: the gateway could
// not be reached, timed out, or returned something that is not a SOAP
// response. It is distinct from upnperr.SOAPError, which means the gateway
// was reached and rejected the action.
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Err.Error())
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type soapErrorResponse struct {
	ErrorCode        int    `xml:"Body>Fault>detail>UPnPError>errorCode"`
	ErrorDescription string `xml:"Body>Fault>detail>UPnPError>errorDescription"`
}

// Invoke POSTs the given action to the control URL and returns the child
// elements of the action's response element. A gateway-reported fault is
// returned as *upnperr.SOAPError, anything below that as *TransportError.
func Invoke(ctx context.Context, controlURL, serviceType, action string, args []Arg) (Values, error) {
	body := fmt.Sprintf(envelopeTpl, actionElement(serviceType, action, args))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, strings.NewReader(body))
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	req.Close = true
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("User-Agent", "mupnp/1.0")
	req.Header["SOAPAction"] = []string{fmt.Sprintf(`"%s#%s"`, serviceType, action)} // Enforce capitalization in header-entry for sensitive routers.
	req.Header.Set("Connection", "Close")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	metricRequests.WithLabelValues(action).Inc()

	l.Debugln("SOAP request URL:", controlURL)
	l.Debugln("SOAP action:", req.Header.Get("SOAPAction"))
	l.Debugln("SOAP request:\n\n" + body)

	r, err := httpClient.Do(req)
	if err != nil {
		metricTransportErrors.WithLabelValues(action).Inc()
		return nil, &TransportError{Action: action, Err: err}
	}
	resp, _ := io.ReadAll(r.Body)
	r.Body.Close()

	l.Debugf("SOAP response: %s\n\n%s\n\n", r.Status, resp)

	if fault := parseFault(resp); fault != nil {
		metricFaults.WithLabelValues(action).Inc()
		return nil, fault
	}
	if r.StatusCode >= 400 {
		metricTransportErrors.WithLabelValues(action).Inc()
		return nil, &TransportError{Action: action, Err: errors.New(r.Status)}
	}

	values, err := parseResponse(resp, action)
	if err != nil {
		metricTransportErrors.WithLabelValues(action).Inc()
		return nil, &TransportError{Action: action, Err: err}
	}
	return values, nil
}

// actionElement renders the <u:Action> element with its arguments in the
// order the caller supplied them.
func actionElement(serviceType, action string, args []Arg) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<u:%s xmlns:u="%s">`, action, serviceType)
	for _, arg := range args {
		b.WriteString("\n<" + arg.Name + ">")
		xml.EscapeText(&b, []byte(arg.Value))
		b.WriteString("</" + arg.Name + ">")
	}
	fmt.Fprintf(&b, "\n</u:%s>", action)
	return b.String()
}

// parseFault returns the embedded UPnP fault, if the body carries one.
func parseFault(resp []byte) *upnperr.SOAPError {
	envelope := &soapErrorResponse{}
	if err := xml.Unmarshal(resp, envelope); err != nil {
		return nil
	}
	if envelope.ErrorCode == 0 {
		return nil
	}
	return upnperr.FromCode(envelope.ErrorCode)
}

// parseResponse extracts the child elements of the <ActionResponse>
// element as name/value string pairs.
func parseResponse(resp []byte, action string) (Values, error) {
	dec := xml.NewDecoder(bytes.NewReader(resp))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, errors.Errorf("no %sResponse element in response", action)
		}
		if err != nil {
			return nil, errors.Wrap(err, "parsing response envelope")
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == action+"Response" {
			break
		}
	}

	var values Values
	depth := 0
	var current string
	var text bytes.Buffer
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "parsing response arguments")
		}
		switch se := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				current = se.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth == 1 {
				text.Write(se)
			}
		case xml.EndElement:
			if depth == 0 {
				// End of the response element itself.
				return values, nil
			}
			if depth == 1 {
				values = append(values, Arg{Name: current, Value: text.String()})
			}
			depth--
		}
	}
}
