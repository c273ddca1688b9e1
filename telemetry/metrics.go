package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments caches created instruments so hot paths never re-create
// them. Each instrument resolves from the global meter provider on first
// use; NewOTelProvider registers that provider during startup, before
// traffic. Without a registered provider emission is a no-op.
type instruments struct {
	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

var global = &instruments{
	counters:   make(map[string]metric.Int64Counter),
	histograms: make(map[string]metric.Float64Histogram),
}

// Counter increments a counter metric by 1. Labels are key-value pairs.
// Example: Counter("gateway.completions", "outcome", "success")
func Counter(name string, labels ...string) {
	c, err := global.counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(labelAttrs(labels)...))
}

// Histogram records a value in a distribution. Use for latencies and
// sizes; the backend computes percentiles.
func Histogram(name string, value float64, labels ...string) {
	h, err := global.histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(labelAttrs(labels)...))
}

// Duration records elapsed time since startTime in milliseconds
func Duration(name string, startTime time.Time, labels ...string) {
	Histogram(name, float64(time.Since(startTime).Milliseconds()), labels...)
}

func (i *instruments) counter(name string) (metric.Int64Counter, error) {
	i.mu.RLock()
	c, ok := i.counters[name]
	i.mu.RUnlock()
	if ok {
		return c, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if c, ok = i.counters[name]; !ok {
		var err error
		c, err = otel.Meter("modelgate").Int64Counter(name)
		if err != nil {
			return nil, err
		}
		i.counters[name] = c
	}
	return c, nil
}

func (i *instruments) histogram(name string) (metric.Float64Histogram, error) {
	i.mu.RLock()
	h, ok := i.histograms[name]
	i.mu.RUnlock()
	if ok {
		return h, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if h, ok = i.histograms[name]; !ok {
		var err error
		h, err = otel.Meter("modelgate").Float64Histogram(name)
		if err != nil {
			return nil, err
		}
		i.histograms[name] = h
	}
	return h, nil
}

func labelAttrs(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
