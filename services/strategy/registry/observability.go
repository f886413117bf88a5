// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	catalogLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strategy",
		Subsystem: "registry",
		Name:      "catalog_loads_total",
		Help:      "Catalog load attempts by outcome",
	}, []string{"outcome"})

	probeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strategy",
		Subsystem: "registry",
		Name:      "probe_duration_seconds",
		Help:      "Tool server probe latency",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 3},
	}, []string{"server"})

	serverAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "strategy",
		Subsystem: "registry",
		Name:      "server_available",
		Help:      "1 if the last probe of the tool server succeeded",
	}, []string{"server"})
)
