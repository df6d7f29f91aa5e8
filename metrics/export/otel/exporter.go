package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/atlasauth"
	"github.com/MrEthical07/atlasauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// BucketAttribute is the attribute key carrying a bucket's upper bound.
const BucketAttribute = "le"

type metricsSource interface {
	MetricsSnapshot() atlasauth.MetricsSnapshot
	AuditDropped() uint64
}

type histogramInstruments struct {
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine metrics as observable instruments. Values
// are read from the source once per collection.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	counters     map[atlasauth.MetricID]metric.Int64ObservableCounter
	histograms   map[atlasauth.MetricID]histogramInstruments
	auditDropped metric.Int64ObservableCounter

	// bucketAttrs[i] labels cumulative bucket i, the last one "+Inf".
	bucketAttrs [internaldefs.BucketCount]metric.ObserveOption
}

// NewOTelExporter registers instruments on meter for engine. Call Close to
// unregister the callback.
func NewOTelExporter(meter metric.Meter, engine *atlasauth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:     source,
		counters:   make(map[atlasauth.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
		histograms: make(map[atlasauth.MetricID]histogramInstruments, len(internaldefs.HistogramDefs)),
	}
	for i, bound := range internaldefs.UpperBounds() {
		e.bucketAttrs[i] = metric.WithAttributeSet(attribute.NewSet(
			attribute.String(BucketAttribute, strconv.FormatFloat(bound, 'f', -1, 64)),
		))
	}
	e.bucketAttrs[internaldefs.BucketCount-1] = metric.WithAttributeSet(attribute.NewSet(
		attribute.String(BucketAttribute, "+Inf"),
	))

	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = ins
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit("{observation}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total observations."),
			metric.WithUnit("{observation}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
		}
		e.histograms[def.ID] = histogramInstruments{buckets: buckets, count: count}
		observables = append(observables, buckets, count)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for id, v := range snapshot.Counters {
		if ins, ok := e.counters[id]; ok {
			observer.ObserveInt64(ins, int64(v))
		}
	}

	for id, raw := range snapshot.Histograms {
		ins, ok := e.histograms[id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, n := range cumulative {
			observer.ObserveInt64(ins.buckets, int64(n), e.bucketAttrs[i])
		}
		observer.ObserveInt64(ins.count, int64(cumulative[len(cumulative)-1]))
	}

	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
