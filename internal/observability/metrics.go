package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// transitions counts committed status changes. Labels are bounded by the
	// status enumeration and the fixed set of causes.
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_transitions_total",
			Help: "Committed applicant status transitions.",
		},
		[]string{"from", "to", "cause"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "email_sweep_duration_seconds",
			Help:    "Duration of email reconciliation sweeps.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"result"},
	)

	replyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_reply_outcomes_total",
			Help: "Per-applicant classification results from email sweeps.",
		},
		[]string{"outcome"},
	)

	livePrompts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_prompts_live",
			Help: "Reviewer prompts currently held in the projection cache.",
		},
	)

	mailReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbox_reconnects_total",
			Help: "Mailbox reconnect attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(transitions, sweepDuration, replyOutcomes, livePrompts, mailReconnects)
}

// ObserveTransition counts one committed transition.
func ObserveTransition(from, to, cause string) {
	transitions.WithLabelValues(from, to, cause).Inc()
}

// ObserveSweep records a sweep's duration under result
// ("ok", "mailbox_unavailable", "scan_failed").
func ObserveSweep(d time.Duration, result string) {
	sweepDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveReply counts one classified mailbox check.
func ObserveReply(outcome string) {
	replyOutcomes.WithLabelValues(outcome).Inc()
}

// SetLivePrompts sets the projection cache size.
func SetLivePrompts(n int) {
	livePrompts.Set(float64(n))
}

// ObserveReconnect counts a mailbox reconnect attempt.
func ObserveReconnect(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	mailReconnects.WithLabelValues(result).Inc()
}
