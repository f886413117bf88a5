// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strategy",
		Subsystem: "mcp",
		Name:      "calls_total",
		Help:      "Tool calls by server and outcome",
	}, []string{"server", "outcome"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strategy",
		Subsystem: "mcp",
		Name:      "call_duration_seconds",
		Help:      "Tool server round trip latency",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"server"})
)
