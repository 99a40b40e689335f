package metrics

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Prefix is prepended to every instrument name.
const Prefix = "auctiond"

var (
	log = logging.Logger("auctiond/metrics")

	// Meter is the daemon meter. It delegates to the global provider once
	// one is installed.
	Meter = otel.Meter(Prefix)

	// AttrOK is a metric tag to indicate a successful operation.
	AttrOK = attribute.Key("status").String("ok")
	// AttrError is a metric tag to indicate a failed operation.
	AttrError = attribute.Key("status").String("error")
)

// MetricIncrCounter increments the specified Int64Counter by 1. Depending if err
// is nil or not, it will use AttrOK or AttrError respectively. This method is a helper
// for deferring in methods.
func MetricIncrCounter(ctx context.Context, err error, m metric.Int64Counter, labels ...attribute.KeyValue) {
	attr := AttrOK
	if err != nil {
		attr = AttrError
	}
	m.Add(ctx, 1, metric.WithAttributes(append(labels, attr)...))
}

// Int64Counter returns a counter named Prefix.name. If the instrument can't
// be created, a no-op counter is returned.
func Int64Counter(name, description string) metric.Int64Counter {
	c, err := Meter.Int64Counter(Prefix+"."+name, metric.WithDescription(description))
	if err != nil {
		log.Errorf("creating counter %s: %v", name, err)
		return noop.Int64Counter{}
	}
	return c
}

// Int64Gauge registers an observable gauge named Prefix.name reporting the
// value returned by cb.
func Int64Gauge(name, description string, cb func() int64) {
	_, err := Meter.Int64ObservableGauge(
		Prefix+"."+name,
		metric.WithDescription(description),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(cb())
			return nil
		}),
	)
	if err != nil {
		log.Errorf("creating gauge %s: %v", name, err)
	}
}
