// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package mupnp

import (
	"github.com/pkg/errors"

	"github.com/rgaufman/mupnp/lib/igd"
	"github.com/rgaufman/mupnp/lib/ssdp"
)

var (
	// ErrInvalidArgument is returned for locally rejected arguments, such
	// as ports outside [1, 65535] or unknown protocols. No network I/O
	// has happened when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotDiscovered is returned when an operation requires a gateway
	// session but no discovery has succeeded yet.
	ErrNotDiscovered = errors.New("no gateway discovered")

	// ErrStatisticUnavailable is returned when the gateway answered a
	// statistics query with a negative or malformed value.
	ErrStatisticUnavailable = errors.New("statistic unavailable")

	// ErrNoDeviceFound is returned by discovery when nothing answered
	// the search.
	ErrNoDeviceFound = ssdp.ErrNoDeviceFound

	// ErrNoValidIGD is returned by discovery when devices answered but
	// none of them advertised the required services.
	ErrNoValidIGD = igd.ErrNoValidIGD
)
