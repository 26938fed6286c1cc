// Package ingest reacts to telemetry written by device agents: it removes
// uploads the account may not make, routes flagged text to the vault and
// alerts, and watches device health.
package ingest

import (
	"time"

	"famtool-server/internal/classify"
	"famtool-server/internal/model"
	"famtool-server/internal/notify"
	"famtool-server/internal/policy"
	"famtool-server/internal/store"
	"famtool-server/internal/trigger"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	RecordPattern       = "account/{uid}/{device}/{category}/data/{record}"
	DeviceStatusPattern = "account/{uid}/" + model.DeviceStatusKey
)

type Options struct {
	Engine *classify.Engine
	Now    func() time.Time
	// Retry builds the backoff policy for each secondary write.
	Retry func() backoff.BackOff
	// BatteryThreshold is the percentage below which a warning is sent.
	BatteryThreshold float64
	BatteryInterval  time.Duration
}

type Router struct {
	st     store.Store
	gate   *policy.Gate
	sink   *notify.Sink
	engine *classify.Engine
	logger zerolog.Logger
	now    func() time.Time
	retry  func() backoff.BackOff

	batteryThreshold float64
	batteryInterval  time.Duration
}

func defaultRetry() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 100 * time.Millisecond
	exp.Multiplier = 2
	exp.MaxInterval = 2 * time.Second
	exp.MaxElapsedTime = 10 * time.Second
	exp.Reset()
	return backoff.WithMaxRetries(exp, 4)
}

func New(st store.Store, gate *policy.Gate, sink *notify.Sink, logger zerolog.Logger, opts Options) *Router {
	if opts.Engine == nil {
		opts.Engine = classify.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry == nil {
		opts.Retry = defaultRetry
	}
	if opts.BatteryThreshold <= 0 {
		opts.BatteryThreshold = 15
	}
	if opts.BatteryInterval <= 0 {
		opts.BatteryInterval = 6 * time.Hour
	}
	return &Router{
		st:               st,
		gate:             gate,
		sink:             sink,
		engine:           opts.Engine,
		logger:           logger.With().Str("component", "ingest").Logger(),
		now:              opts.Now,
		retry:            opts.Retry,
		batteryThreshold: opts.BatteryThreshold,
		batteryInterval:  opts.BatteryInterval,
	}
}

// Register attaches every ingestion handler to d.
func (r *Router) Register(d *trigger.Dispatcher) {
	d.OnCreate("enforce-uploads", RecordPattern, r.EnforceUpload)
	d.OnCreate("route-text", RecordPattern, r.RouteText)
	d.OnWrite("monitor-battery", DeviceStatusPattern, r.MonitorBattery)
}

// deviceRecord extracts the common params of RecordPattern. Reserved account
// children such as notifications can match the pattern too and are skipped.
func deviceRecord(ev trigger.Event) (uid, device, category, record string, ok bool) {
	uid, device = ev.Param("uid"), ev.Param("device")
	category, record = ev.Param("category"), ev.Param("record")
	return uid, device, category, record, model.ValidDeviceKey(device)
}
