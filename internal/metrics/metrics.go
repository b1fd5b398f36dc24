// Package metrics counts settlements and times ledger calls in a go-metrics
// registry that is served as JSON.
package metrics

import (
	"net/http"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Recorder wraps a registry with the names used across the service.
type Recorder struct {
	reg gometrics.Registry
}

func New() *Recorder { return &Recorder{reg: gometrics.NewRegistry()} }

func (r *Recorder) Registry() gometrics.Registry { return r.reg }

// Settled counts a settled wager under its family and classification.
func (r *Recorder) Settled(family, class string) {
	gometrics.GetOrRegisterCounter("settle."+family+"."+class, r.reg).Inc(1)
	gometrics.GetOrRegisterMeter("settle.rate", r.reg).Mark(1)
}

// Rejected counts a wager that ended with an error code.
func (r *Recorder) Rejected(family, code string) {
	gometrics.GetOrRegisterCounter("error."+family+"."+code, r.reg).Inc(1)
}

// SettleLatency times a settlement from start.
func (r *Recorder) SettleLatency(family string, start time.Time) {
	gometrics.GetOrRegisterTimer("settle."+family+".latency", r.reg).UpdateSince(start)
}

// LedgerLatency times a ledger call from start.
func (r *Recorder) LedgerLatency(op string, start time.Time) {
	gometrics.GetOrRegisterTimer("ledger."+op+".latency", r.reg).UpdateSince(start)
}

// Count reads a counter; unknown names read zero.
func (r *Recorder) Count(name string) int64 {
	if c, ok := r.reg.Get(name).(gometrics.Counter); ok {
		return c.Count()
	}
	return 0
}

// Handler serves the registry as JSON.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		gometrics.WriteJSONOnce(r.reg, w)
	})
}
