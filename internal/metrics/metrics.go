// Package metrics exports engine events as prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gitrdm/gokanhtn/pkg/htn"
)

const (
	ModeLabel  = "mode"
	EventLabel = "event"
)

// Recorder implements htn.Recorder with prometheus collectors.
type Recorder struct {
	events *prometheus.CounterVec
	flaws  *prometheus.GaugeVec
	runs   *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "htn",
				Name:      "engine_events_total",
				Help:      "Chart and search steps by run mode and event.",
			},
			[]string{ModeLabel, EventLabel},
		),
		flaws: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "htn",
				Name:      "incumbent_flaws",
				Help:      "Flaw count of the latest incumbent solution.",
			},
			[]string{ModeLabel},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "htn",
				Name:      "runs_total",
				Help:      "Finished runs by mode and outcome.",
			},
			[]string{ModeLabel, "outcome"},
		),
	}
	for _, c := range []prometheus.Collector{r.events, r.flaws, r.runs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Record counts one engine event.
func (r *Recorder) Record(mode string, ev htn.Event) {
	r.events.WithLabelValues(mode, string(ev)).Inc()
}

// Incumbent sets the incumbent gauge.
func (r *Recorder) Incumbent(mode string, flaws int) {
	r.flaws.WithLabelValues(mode).Set(float64(flaws))
}

// Finished counts a run outcome: "found", "not_found" or "error".
func (r *Recorder) Finished(mode string, res htn.Result, err error) {
	outcome := "not_found"
	switch {
	case err != nil:
		outcome = "error"
	case res.Found:
		outcome = "found"
	}
	r.runs.WithLabelValues(mode, outcome).Inc()
}

var _ htn.Recorder = (*Recorder)(nil)
