// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ssdp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricSearches = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mupnp",
	Subsystem: "ssdp",
	Name:      "searches_total",
	Help:      "Number of M-SEARCH discovery rounds performed.",
})

var metricResponses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mupnp",
	Subsystem: "ssdp",
	Name:      "responses_total",
	Help:      "Number of well-formed SSDP responses received.",
})

var metricMalformed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mupnp",
	Subsystem: "ssdp",
	Name:      "malformed_responses_total",
	Help:      "Number of SSDP responses discarded as malformed.",
})
