package streak

import "github.com/prometheus/client_golang/prometheus"

const (
	transitionExtended = "extended"
	transitionStarted  = "started"
	transitionReset    = "reset"
	transitionRebuilt  = "rebuilt"
)

var transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reading_service",
	Subsystem: "streak",
	Name:      "transitions_total",
	Help:      "Number of streak state transitions grouped by kind.",
}, []string{"kind"})

func init() {
	prometheus.MustRegister(transitionCounter)
}

func recordTransition(kind string) {
	transitionCounter.WithLabelValues(kind).Inc()
}
