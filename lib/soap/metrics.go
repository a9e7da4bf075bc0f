// Copyright (C) 2026 The Mupnp Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package soap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mupnp",
	Subsystem: "soap",
	Name:      "requests_total",
	Help:      "Number of SOAP actions invoked, per action name.",
}, []string{"action"})

var metricFaults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mupnp",
	Subsystem: "soap",
	Name:      "faults_total",
	Help:      "Number of SOAP faults returned by the gateway, per action name.",
}, []string{"action"})

var metricTransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mupnp",
	Subsystem: "soap",
	Name:      "transport_errors_total",
	Help:      "Number of SOAP actions that failed below the protocol level, per action name.",
}, []string{"action"})
