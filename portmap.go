// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package mupnp

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/rgaufman/mupnp/lib/soap"
	"github.com/rgaufman/mupnp/lib/upnperr"
)

// A PortMapping is a read-only snapshot of one forwarding rule on the
// gateway. It does not track the underlying rule; deleting the rule does
// not invalidate snapshots returned earlier.
type PortMapping struct {
	RemoteHost     string
	ExternalPort   int
	InternalPort   int
	Protocol       Protocol
	InternalClient string
	Enabled        bool
	Description    string
	LeaseDuration  time.Duration
}

// A MappingSpec describes a forwarding rule to create.
type MappingSpec struct {
	ExternalPort int
	InternalPort int
	Protocol     Protocol
	Description  string
	// InternalClient is the address forwarded traffic is sent to. Empty
	// means this host's address on the gateway-facing network.
	InternalClient string
	// LeaseDuration of zero requests a permanent mapping.
	LeaseDuration time.Duration
}

// AddPortMapping creates a forwarding rule on the gateway. Whether an
// existing rule for the same (port, protocol) pair is replaced or
// conflicts is gateway-defined and surfaced through the fault code.
func (c *Client) AddPortMapping(ctx context.Context, spec MappingSpec) error {
	if err := validatePort(spec.ExternalPort); err != nil {
		return err
	}
	if err := validatePort(spec.InternalPort); err != nil {
		return err
	}
	if err := validateProtocol(spec.Protocol); err != nil {
		return err
	}

	session, err := c.acquireSession()
	if err != nil {
		return err
	}

	client := spec.InternalClient
	if client == "" {
		client = session.LocalIP.String()
	}

	args := []soap.Arg{
		{Name: "NewRemoteHost", Value: ""},
		{Name: "NewExternalPort", Value: strconv.Itoa(spec.ExternalPort)},
		{Name: "NewProtocol", Value: string(spec.Protocol)},
		{Name: "NewInternalPort", Value: strconv.Itoa(spec.InternalPort)},
		{Name: "NewInternalClient", Value: client},
		{Name: "NewEnabled", Value: "1"},
		{Name: "NewPortMappingDescription", Value: spec.Description},
		{Name: "NewLeaseDuration", Value: strconv.Itoa(int(spec.LeaseDuration / time.Second))},
	}

	_, err = soap.Invoke(ctx, session.ControlURL, session.ServiceType, "AddPortMapping", args)
	if err != nil && spec.LeaseDuration > 0 {
		// Retry error 725 - OnlyPermanentLeasesSupported - once with a
		// permanent lease.
		var soapErr *upnperr.SOAPError
		if errors.As(err, &soapErr) && soapErr.Code == upnperr.CodeOnlyPermanentLeasesSupported {
			spec.LeaseDuration = 0
			return c.AddPortMapping(ctx, spec)
		}
	}
	return err
}

// DeletePortMapping removes a forwarding rule. Deleting a rule that does
// not exist is reported through whatever fault code the gateway chooses.
func (c *Client) DeletePortMapping(ctx context.Context, externalPort int, protocol Protocol) error {
	if err := validatePort(externalPort); err != nil {
		return err
	}
	if err := validateProtocol(protocol); err != nil {
		return err
	}

	session, err := c.acquireSession()
	if err != nil {
		return err
	}

	args := []soap.Arg{
		{Name: "NewRemoteHost", Value: ""},
		{Name: "NewExternalPort", Value: strconv.Itoa(externalPort)},
		{Name: "NewProtocol", Value: string(protocol)},
	}
	_, err = soap.Invoke(ctx, session.ControlURL, session.ServiceType, "DeletePortMapping", args)
	return err
}

// GetPortMapping returns the rule for the given external port and
// protocol, if one exists.
func (c *Client) GetPortMapping(ctx context.Context, externalPort int, protocol Protocol) (*PortMapping, error) {
	if err := validatePort(externalPort); err != nil {
		return nil, err
	}
	if err := validateProtocol(protocol); err != nil {
		return nil, err
	}

	session, err := c.acquireSession()
	if err != nil {
		return nil, err
	}

	args := []soap.Arg{
		{Name: "NewRemoteHost", Value: ""},
		{Name: "NewExternalPort", Value: strconv.Itoa(externalPort)},
		{Name: "NewProtocol", Value: string(protocol)},
	}
	values, err := soap.Invoke(ctx, session.ControlURL, session.ServiceType, "GetSpecificPortMappingEntry", args)
	if err != nil {
		return nil, err
	}

	mapping := mappingFromValues(values)
	mapping.ExternalPort = externalPort
	mapping.Protocol = protocol
	return mapping, nil
}

// ListPortMappings enumerates the gateway's forwarding rules by index.
// The protocol does not distinguish "no more entries" from a lookup
// failure, so the first fault ends the enumeration without error.
func (c *Client) ListPortMappings(ctx context.Context) ([]PortMapping, error) {
	session, err := c.acquireSession()
	if err != nil {
		return nil, err
	}

	var mappings []PortMapping
	for index := 0; ; index++ {
		args := []soap.Arg{
			{Name: "NewPortMappingIndex", Value: strconv.Itoa(index)},
		}
		values, err := soap.Invoke(ctx, session.ControlURL, session.ServiceType, "GetGenericPortMappingEntry", args)
		if err != nil {
			var soapErr *upnperr.SOAPError
			if errors.As(err, &soapErr) {
				l.Debugf("Enumeration ended at index %d: %s", index, soapErr)
				return mappings, nil
			}
			// A transport failure is not an end-of-list signal.
			return nil, err
		}

		mapping := mappingFromValues(values)
		mapping.ExternalPort, _ = strconv.Atoi(values.Get("NewExternalPort"))
		mapping.Protocol = Protocol(values.Get("NewProtocol"))
		mapping.RemoteHost = values.Get("NewRemoteHost")
		mappings = append(mappings, *mapping)
	}
}

func mappingFromValues(values soap.Values) *PortMapping {
	internalPort, _ := strconv.Atoi(values.Get("NewInternalPort"))
	lease, _ := strconv.Atoi(values.Get("NewLeaseDuration"))
	return &PortMapping{
		InternalPort:   internalPort,
		InternalClient: values.Get("NewInternalClient"),
		Enabled:        values.Get("NewEnabled") == "1",
		Description:    values.Get("NewPortMappingDescription"),
		LeaseDuration:  time.Duration(lease) * time.Second,
	}
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return errors.Wrapf(ErrInvalidArgument, "port %d out of range", port)
	}
	return nil
}

func validateProtocol(protocol Protocol) error {
	if protocol != TCP && protocol != UDP {
		return errors.Wrapf(ErrInvalidArgument, "unknown protocol %q", protocol)
	}
	return nil
}
