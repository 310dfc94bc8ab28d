package reconcile

import "github.com/prometheus/client_golang/prometheus"

const (
	hookCreate      = "create"
	hookEdit        = "edit"
	hookDelete      = "delete"
	hookInteraction = "interaction"
)

const (
	outcomeSameText        = "same_text"
	outcomeOriginalExpired = "original_expired"
	outcomeSameContent     = "same_content"
	outcomeFrozen          = "frozen"
	outcomeNotRelinked     = "not_relinked"
	outcomeCreated         = "created"
	outcomeReplyExpired    = "reply_expired"
	outcomeReplyGone       = "reply_gone"
	outcomeDeleted         = "deleted"
	outcomeEdited          = "edited"
	outcomeReleased        = "released"
	outcomeNoop            = "noop"
	outcomeBotAuthor       = "bot_author"
	outcomeNoItems         = "no_items"
	outcomeRejected        = "rejected"
)

var transitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tether",
		Subsystem: "reconcile",
		Name:      "transitions_total",
		Help:      "Reconciliation decisions by reconciler, hook and outcome.",
	},
	[]string{"reconciler", "hook", "outcome"},
)

func init() {
	prometheus.MustRegister(transitionsTotal)
}

func observeTransition(reconciler, hook, outcome string) {
	transitionsTotal.WithLabelValues(reconciler, hook, outcome).Inc()
}
