package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authbridge"
	"github.com/MrEthical07/authbridge/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const (
	outcomeKey = attribute.Key("outcome")
	boundKey   = attribute.Key("le")
)

type metricsSource interface {
	MetricsSnapshot() authbridge.MetricsSnapshot
	AuditDropped() uint64
	AuditDelivered() uint64
	AuditFailed() uint64
}

// flowOutcome binds one engine counter to an outcome label on its flow's
// instrument.
type flowOutcome struct {
	id      authbridge.MetricID
	outcome string
}

// flowInstrument is one counter per authentication flow; outcomes are
// attributes rather than separate series names.
type flowInstrument struct {
	name     string
	help     string
	outcomes []flowOutcome
}

var flowInstruments = []flowInstrument{
	{
		name: "authbridge.login",
		help: "Password sign-in attempts by outcome.",
		outcomes: []flowOutcome{
			{authbridge.MetricLoginSuccess, "success"},
			{authbridge.MetricLoginFailure, "failure"},
			{authbridge.MetricLoginRateLimited, "rate_limited"},
		},
	},
	{
		name: "authbridge.refresh",
		help: "Refresh token rotations by outcome.",
		outcomes: []flowOutcome{
			{authbridge.MetricRefreshSuccess, "success"},
			{authbridge.MetricRefreshFailure, "failure"},
			{authbridge.MetricRefreshRateLimited, "rate_limited"},
		},
	},
	{
		name: "authbridge.session",
		help: "Remembered session lifecycle.",
		outcomes: []flowOutcome{
			{authbridge.MetricSessionCreated, "created"},
			{authbridge.MetricLogout, "logged_out"},
		},
	},
	{
		name: "authbridge.migration",
		help: "Legacy account migrations by outcome.",
		outcomes: []flowOutcome{
			{authbridge.MetricMigrationSuccess, "success"},
			{authbridge.MetricMigrationFailure, "failure"},
			{authbridge.MetricIntegrityConflict, "integrity_conflict"},
		},
	},
	{
		name: "authbridge.external_auth",
		help: "Identity provider assertions by outcome.",
		outcomes: []flowOutcome{
			{authbridge.MetricExternalAuthSuccess, "success"},
			{authbridge.MetricExternalAuthFailure, "failure"},
			{authbridge.MetricUserProvisioned, "provisioned"},
		},
	},
	{
		name: "authbridge.gate",
		help: "Request gate decisions.",
		outcomes: []flowOutcome{
			{authbridge.MetricGateAllow, "allow"},
			{authbridge.MetricGateDeny, "deny"},
		},
	},
	{
		name: "authbridge.totp",
		help: "TOTP checks and enrollment changes.",
		outcomes: []flowOutcome{
			{authbridge.MetricTOTPSuccess, "success"},
			{authbridge.MetricTOTPFailure, "failure"},
			{authbridge.MetricTOTPEnabled, "enabled"},
			{authbridge.MetricTOTPDisabled, "disabled"},
		},
	},
}

type observedFlow struct {
	instrument metric.Int64ObservableCounter
	ids        []authbridge.MetricID
	attrs      []metric.ObserveOption
}

type observedHistogram struct {
	id      authbridge.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine counters as OTel observable instruments.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	flows        []observedFlow
	histograms   []observedHistogram
	bounds       []metric.ObserveOption
	audit        metric.Int64ObservableCounter
	auditAttrs   [3]metric.ObserveOption
}

// NewOTelExporter registers instruments on meter that read from engine on
// every collection.
func NewOTelExporter(meter metric.Meter, engine *authbridge.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source: source,
		flows:  make([]observedFlow, 0, len(flowInstruments)),
	}
	observables := make([]metric.Observable, 0, len(flowInstruments)+len(internaldefs.HistogramDefs)*2+1)

	for _, def := range flowInstruments {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help), metric.WithUnit("{attempt}"))
		if err != nil {
			return nil, fmt.Errorf("create flow counter %s: %w", def.name, err)
		}
		flow := observedFlow{instrument: ins}
		for _, o := range def.outcomes {
			flow.ids = append(flow.ids, o.id)
			flow.attrs = append(flow.attrs, metric.WithAttributeSet(attribute.NewSet(outcomeKey.String(o.outcome))))
		}
		exporter.flows = append(exporter.flows, flow)
		observables = append(observables, ins)
	}

	for _, suffix := range internaldefs.HistogramBoundSuffix {
		exporter.bounds = append(exporter.bounds, metric.WithAttributeSet(attribute.NewSet(boundKey.String(suffix))))
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription("Cumulative count of "+def.Help))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription("Sample count of "+def.Help))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
		}
		exporter.histograms = append(exporter.histograms, observedHistogram{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	audit, err := meter.Int64ObservableCounter("authbridge.audit.events",
		metric.WithDescription("Audit events by delivery result."), metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("create audit counter: %w", err)
	}
	exporter.audit = audit
	for i, result := range []string{"delivered", "dropped", "sink_failed"} {
		exporter.auditAttrs[i] = metric.WithAttributeSet(attribute.NewSet(outcomeKey.String(result)))
	}
	observables = append(observables, audit)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, f := range e.flows {
		for i, id := range f.ids {
			observer.ObserveInt64(f.instrument, int64(snapshot.Counters[id]), f.attrs[i])
		}
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, v := range cumulative {
			observer.ObserveInt64(h.buckets, int64(v), e.bounds[i])
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.audit, int64(e.source.AuditDelivered()), e.auditAttrs[0])
	observer.ObserveInt64(e.audit, int64(e.source.AuditDropped()), e.auditAttrs[1])
	observer.ObserveInt64(e.audit, int64(e.source.AuditFailed()), e.auditAttrs[2])
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
