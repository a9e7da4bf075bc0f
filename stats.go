// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package mupnp

import (
	"context"
	"strconv"
	"strings"

	"github.com/rgaufman/mupnp/lib/soap"
)

// TotalBytesSent returns the number of bytes sent on the WAN link.
func (c *Client) TotalBytesSent(ctx context.Context) (uint64, error) {
	return c.cifStatistic(ctx, "GetTotalBytesSent", "NewTotalBytesSent")
}

// TotalBytesReceived returns the number of bytes received on the WAN link.
func (c *Client) TotalBytesReceived(ctx context.Context) (uint64, error) {
	return c.cifStatistic(ctx, "GetTotalBytesReceived", "NewTotalBytesReceived")
}

// TotalPacketsSent returns the number of packets sent on the WAN link.
func (c *Client) TotalPacketsSent(ctx context.Context) (uint64, error) {
	return c.cifStatistic(ctx, "GetTotalPacketsSent", "NewTotalPacketsSent")
}

// TotalPacketsReceived returns the number of packets received on the WAN
// link.
func (c *Client) TotalPacketsReceived(ctx context.Context) (uint64, error) {
	return c.cifStatistic(ctx, "GetTotalPacketsReceived", "NewTotalPacketsReceived")
}

// cifStatistic invokes one of the GetTotal* actions against the common
// interface configuration service and parses the single counter value.
func (c *Client) cifStatistic(ctx context.Context, action, field string) (uint64, error) {
	session, err := c.acquireSession()
	if err != nil {
		return 0, err
	}
	values, err := soap.Invoke(ctx, session.ControlURLCIF, session.ServiceTypeCIF, action, nil)
	if err != nil {
		return 0, err
	}
	return parseUint(values.Get(field))
}

// parseUint parses a counter value. Gateways report failures as negative
// sentinels, which are as unusable as garbage.
func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 0 {
		return 0, ErrStatisticUnavailable
	}
	return uint64(v), nil
}
