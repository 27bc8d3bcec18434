package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "questarena"

var (
	TimerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "timer_ticks_total",
		Help:      "Timer loop iterations by result.",
	}, []string{"result"})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Realtime messages broadcast by event name.",
	}, []string{"event"})

	StaleObservers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_observers_total",
		Help:      "Observers dropped after a failed or timed out send.",
	})

	Observers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "observers",
		Help:      "Currently connected realtime observers.",
	})

	JudgeVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "judge_verdicts_total",
		Help:      "Code judge verdicts, including failures resolved to wrong.",
	}, []string{"verdict"})

	JudgeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "judge_duration_seconds",
		Help:      "Latency of code judge calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
