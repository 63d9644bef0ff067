package abuse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	detectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vote_abuse_detections_total",
		Help: "Abuse verdicts returned by the detection pipeline, by type.",
	}, []string{"abuse_type"})

	investigationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vote_abuse_investigations_total",
		Help: "Investigation outcomes applied to abuse cases, by status.",
	}, []string{"status"})
)
