package foldercache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/vdavid/mailfolders/internal/foldercache"

var defaultMetrics = newCacheMetrics(otel.Meter(meterName))

type cacheMetrics struct {
	lookups       metric.Int64Counter
	rebuilds      metric.Int64Counter
	invalidations metric.Int64Counter
}

func newCacheMetrics(meter metric.Meter) *cacheMetrics {
	return &cacheMetrics{
		lookups:       counter(meter, "foldercache.lookups", "Folder lookups by result"),
		rebuilds:      counter(meter, "foldercache.rebuilds", "Full LIST/LSUB rebuilds by outcome"),
		invalidations: counter(meter, "foldercache.invalidations", "Cache invalidations by origin"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}

func (m *cacheMetrics) lookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *cacheMetrics) rebuild(ctx context.Context, ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.rebuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *cacheMetrics) invalidation(ctx context.Context, remote bool) {
	origin := "local"
	if remote {
		origin = "remote"
	}
	m.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}
