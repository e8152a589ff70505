// Copyright 2026 The RHSS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry wires the otel tracer and the prometheus counters for
// the location cache (hits, misses, inserts, evictions, invalidations) and
// the migration engine. Spans are started for the namespace operations
// getattr, readdir, open, create, unlink and rename and for the migration
// engine's migrate_file and scan passes; the other namespace operations
// (read, write, close, mkdir, rmdir, truncate, chmod, chown, utimens,
// statfs) are not traced.
package telemetry

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ShutdownFunc releases resources created while wiring telemetry.
type ShutdownFunc func(ctx context.Context) error

// JoinShutdownFunc combines shutdown functions into one, collecting every
// error rather than stopping at the first.
func JoinShutdownFunc(fns ...ShutdownFunc) ShutdownFunc {
	return func(ctx context.Context) error {
		var err error
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			err = errors.Join(err, fn(ctx))
		}
		return err
	}
}

const tracerName = "rhss/namespace"

// NamespaceOpKey annotates a span or log line with the namespace operation
// name (getattr, readdir, rename, ...).
const NamespaceOpKey = "rhss.namespace_op"

// TierKey annotates a span with the tier a path resolved to.
const TierKey = "rhss.tier"

// StartOp starts a span named after a namespace operation.
func StartOp(ctx context.Context, op string) (context.Context, oteltrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op, oteltrace.WithAttributes(
		attribute.String(NamespaceOpKey, op),
	))
}

// NewTracerProvider builds a minimal otel TracerProvider. In production this
// would be wired to an OTLP exporter; RHSS ships only the stdout exporter
// (enabled via --mode=trace-debug) since exporter selection is part of the
// opaque --mode surface left to the deployment.
func NewTracerProvider(opts ...trace.TracerProviderOption) *trace.TracerProvider {
	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp
}

// Counters are the location-cache and migration observability counters. They
// are registered against
// a prometheus.Registerer supplied by the caller (`rhss mount` passes a
// fresh prometheus.NewRegistry when --metrics-addr is set, so it can serve
// them over HTTP, and nil otherwise).
type Counters struct {
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CacheInserts      prometheus.Counter
	CacheEvictions    prometheus.Counter
	CacheInvalidations prometheus.Counter

	MigrationsStarted   prometheus.Counter
	MigrationsSucceeded prometheus.Counter
	MigrationsFailed    prometheus.Counter
	MigrationBytesMoved prometheus.Counter
}

// NewCounters registers and returns the RHSS counter set. Safe to call once
// per process; callers that need isolation in tests should pass a fresh
// prometheus.NewRegistry().
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		CacheHits:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rhss", Subsystem: "loccache", Name: "hits_total", Help: "Location cache hits."}),
		CacheMisses:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rhss", Subsystem: "loccache", Name: "misses_total", Help: "Location cache misses."}),
		CacheInserts:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rhss", Subsystem: "loccache", Name: "inserts_total", Help: "Location cache inserts."}),
		CacheEvictions:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rhss", Subsystem: "loccache", Name: "evictions_total", Help: "Location cache LRU evictions."}),
		CacheInvalidations:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rhss", Subsystem: "loccache", Name: "invalidations_total", Help: "Location cache invalidations."}),
		MigrationsStarted:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rhss", Subsystem: "migration", Name: "started_total", Help: "Single-file migrations started."}),
		MigrationsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rhss", Subsystem: "migration", Name: "succeeded_total", Help: "Single-file migrations that completed."}),
		MigrationsFailed:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rhss", Subsystem: "migration", Name: "failed_total", Help: "Single-file migrations that failed."}),
		MigrationBytesMoved: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rhss", Subsystem: "migration", Name: "bytes_moved_total", Help: "Bytes moved across tiers."}),
	}
	if reg != nil {
		reg.MustRegister(
			c.CacheHits, c.CacheMisses, c.CacheInserts, c.CacheEvictions, c.CacheInvalidations,
			c.MigrationsStarted, c.MigrationsSucceeded, c.MigrationsFailed, c.MigrationBytesMoved,
		)
	}
	return c
}
