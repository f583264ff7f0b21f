// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package metrics exposes counters for stage-out and deletion activity in the
// Prometheus exposition format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// the registry holding the service's metrics
var Registry = prometheus.NewRegistry()

var (
	// attempts to copy or delete a file at a single destination, by policy
	// type (LOCAL, OVERRIDE, DELETE) and exit code
	Attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wmstage",
		Name:      "attempts_total",
		Help:      "Stage-out and deletion attempts by type and exit code.",
	}, []string{"type", "exit"})

	// stage-outs by outcome (succeeded, failed)
	StageOuts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wmstage",
		Name:      "stageouts_total",
		Help:      "Files staged out, by outcome.",
	}, []string{"status"})

	// deletions by outcome (succeeded, failed)
	Deletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wmstage",
		Name:      "deletions_total",
		Help:      "Files deleted, by outcome.",
	}, []string{"status"})

	// removals of previously staged-out files after a failed operation, by
	// outcome (succeeded, failed)
	Cleanups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wmstage",
		Name:      "cleanups_total",
		Help:      "Cleanups of staged-out files, by outcome.",
	}, []string{"status"})
)

func init() {
	Registry.MustRegister(Attempts, StageOuts, Deletions, Cleanups)
}

// records a single attempt with the given type and exit code
func RecordAttempt(attemptType string, exitCode int) {
	Attempts.WithLabelValues(attemptType, strconv.Itoa(exitCode)).Inc()
}

// returns "succeeded" or "failed" for use as a status label
func Status(succeeded bool) string {
	if succeeded {
		return "succeeded"
	}
	return "failed"
}

// returns an HTTP handler that serves the metrics in the registry
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
