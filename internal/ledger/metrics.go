package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Herobone/stream-scorer/internal/errors"
)

const (
	labelApply = "apply"
	labelUndo  = "undo"

	labelApplied  = "applied"
	labelNoop     = "noop"
	labelRejected = "rejected"
	labelFailed   = "failed"
)

var (
	mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scorer",
		Subsystem: "ledger",
		Name:      "mutations_total",
		Help:      "Scoring requests handled by the ledger, by action and outcome.",
	}, []string{"action", "outcome"})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scorer",
		Subsystem: "ledger",
		Name:      "publish_failures_total",
		Help:      "Change events that could not be broadcast after a persisted mutation.",
	})
)

// outcome labels a failed flow: rejected when the request itself was refused,
// failed when the store could not serve it.
func outcome(rejected bool, err error) string {
	if rejected || errors.HasCode(err, errors.CodeNotFound) {
		return labelRejected
	}

	return labelFailed
}
