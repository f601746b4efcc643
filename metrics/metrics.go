package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alpacahq/oplogreplay/oplog"
)

var namespace = "oplogreplay"
var subsystem = "replayer"

// StartupTime stores how long connecting and resolving the start position took (in seconds)
var StartupTime = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "startup_seconds",
		Help:      "Seconds taken by the startup",
	},
)

// Observer exports replication progress as prometheus metrics.
// It implements replication.Observer.
type Observer struct {
	now func() time.Time

	replayed    *prometheus.CounterVec
	skipped     prometheus.Counter
	failed      *prometheus.CounterVec
	reconnects  prometheus.Counter
	checkpoint  prometheus.Gauge
	lag         prometheus.Gauge
	lastApplied prometheus.Gauge
}

// NewObserver registers the collectors to reg.
func NewObserver(reg prometheus.Registerer, now func() time.Time) *Observer {
	if now == nil {
		now = time.Now
	}
	f := promauto.With(reg)
	return &Observer{
		now: now,
		replayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "entries_replayed_total",
			Help:      "Number of oplog entries replayed partitioned by op",
		}, []string{"op"}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "entries_skipped_total",
			Help:      "Number of oplog entries excluded by the database allow-list",
		}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "entries_failed_total",
			Help:      "Number of oplog entries dropped after an unrecoverable error partitioned by op",
		}, []string{"op"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnects_total",
			Help:      "Number of times the oplog cursor was reopened after an error",
		}),
		checkpoint: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "checkpoint_timestamp_seconds",
			Help:      "Seconds part of the last saved checkpoint",
		}),
		lag: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lag_seconds",
			Help:      "Seconds between now and the last saved checkpoint",
		}),
		lastApplied: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_replayed_timestamp_seconds",
			Help:      "Unix time at which the last entry was replayed",
		}),
	}
}

func (o *Observer) EntryReplayed(e *oplog.Entry) {
	o.replayed.WithLabelValues(e.Kind.String()).Inc()
	o.lastApplied.Set(float64(o.now().Unix()))
}

func (o *Observer) EntrySkipped(*oplog.Entry) {
	o.skipped.Inc()
}

func (o *Observer) ReplayFailed(e *oplog.Entry, _ error) {
	o.failed.WithLabelValues(e.Kind.String()).Inc()
}

func (o *Observer) Reconnected(error) {
	o.reconnects.Inc()
}

func (o *Observer) CheckpointSaved(ts primitive.Timestamp) {
	o.checkpoint.Set(float64(ts.T))
	o.SetLag(ts)
}

// SetLag updates the lag gauge against position.
func (o *Observer) SetLag(position primitive.Timestamp) {
	if position.T == 0 {
		return
	}
	o.lag.Set(o.now().Sub(oplog.Time(position)).Seconds())
}
