package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "curator_outbox_publish_total",
	Help: "Outbox publish attempts by result.",
}, []string{"result"})
