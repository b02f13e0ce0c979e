package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	stateSuppressed   = "suppressed"
	statePersisted    = "persisted"
	stateFailed       = "persist_failed"
	stateBroadcast    = "broadcast"
	stateEmailPending = "email_pending"
	stateEmailSkipped = "email_skipped"
	stateEmailSent    = "email_sent"
	stateEmailFailed  = "email_failed"
)

var notificationStates = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "delivery_notifications_total",
	Help: "Notifications by delivery state reached.",
}, []string{"state"})

func countState(state string) { notificationStates.WithLabelValues(state).Inc() }
