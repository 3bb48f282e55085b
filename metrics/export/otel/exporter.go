package otel

import (
	"context"
	"errors"
	"fmt"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goVerify.MetricsSnapshot
	AuditDropped() uint64
}

type auditStats interface {
	AuditDelivered() uint64
	AuditSinkPanics() uint64
}

// family pairs one observable counter with the attribute set of each series.
type family struct {
	counter metric.Int64ObservableCounter
	series  []internaldefs.Series
	attrs   []metric.ObserveOption
}

// OTelExporter publishes Engine counters as asynchronous OpenTelemetry
// instruments. Each family becomes one counter with a label attribute.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	families []family
	buckets  metric.Int64ObservableGauge
	count    metric.Int64ObservableGauge
	audit    metric.Int64ObservableCounter
}

// NewOTelExporter registers engine counters on meter.
func NewOTelExporter(meter metric.Meter, engine *goVerify.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers the counters of any snapshot source on meter.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.Families {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		f := family{counter: c, series: def.Series}
		for _, s := range def.Series {
			var kv []attribute.KeyValue
			if def.LabelKey != "" {
				kv = append(kv, attribute.String(def.LabelKey, s.Label))
			}
			f.attrs = append(f.attrs, metric.WithAttributes(kv...))
		}
		e.families = append(e.families, f)
		observables = append(observables, c)
	}

	hist := internaldefs.AuthorizeDuration
	var err error
	if e.buckets, err = meter.Int64ObservableGauge(hist.Name+"_bucket",
		metric.WithDescription("Cumulative "+hist.Help+" bucket counts by upper bound.")); err != nil {
		return nil, fmt.Errorf("create histogram buckets: %w", err)
	}
	if e.count, err = meter.Int64ObservableGauge(hist.Name+"_count",
		metric.WithDescription(hist.Help+" sample count.")); err != nil {
		return nil, fmt.Errorf("create histogram count: %w", err)
	}
	if e.audit, err = meter.Int64ObservableCounter("goverify_audit_events_total",
		metric.WithDescription("Audit events by dispatch outcome.")); err != nil {
		return nil, fmt.Errorf("create audit counter: %w", err)
	}
	observables = append(observables, e.buckets, e.count, e.audit)

	if e.registration, err = meter.RegisterCallback(e.observe, observables...); err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, f := range e.families {
		for i, s := range f.series {
			o.ObserveInt64(f.counter, int64(snap.Counters[s.ID]), f.attrs[i])
		}
	}

	if raw, ok := snap.Histograms[internaldefs.AuthorizeDuration.ID]; ok {
		cum := internaldefs.Cumulative(internaldefs.Buckets(raw))
		for i, bound := range internaldefs.BucketBounds {
			o.ObserveInt64(e.buckets, int64(cum[i]),
				metric.WithAttributes(attribute.String("le", internaldefs.FormatBound(bound))))
		}
		total := int64(cum[len(cum)-1])
		o.ObserveInt64(e.buckets, total, metric.WithAttributes(attribute.String("le", "+Inf")))
		o.ObserveInt64(e.count, total)
	}

	o.ObserveInt64(e.audit, int64(e.source.AuditDropped()), outcome("dropped"))
	if stats, ok := e.source.(auditStats); ok {
		o.ObserveInt64(e.audit, int64(stats.AuditDelivered()), outcome("delivered"))
		o.ObserveInt64(e.audit, int64(stats.AuditSinkPanics()), outcome("sink_panic"))
	}
	return nil
}

func outcome(v string) metric.ObserveOption {
	return metric.WithAttributes(attribute.String("outcome", v))
}

// Close unregisters the callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
