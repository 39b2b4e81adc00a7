package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ranjbar-amirabbas/PYTS/internal/model"
)

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pyts_stream_sessions_active",
			Help: "Number of open streaming sessions.",
		},
	)

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyts_stream_messages_total",
			Help: "Total number of messages produced by streaming sessions.",
		},
		[]string{"type"},
	)

	overflowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pyts_stream_buffer_overflows_total",
			Help: "Total number of sessions terminated by buffer overflow.",
		},
	)

	chunkBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pyts_stream_chunk_bytes",
			Help:    "Size of audio buffers sent to the engine by streaming sessions.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(sessionsActive)
	prometheus.MustRegister(messagesTotal)
	prometheus.MustRegister(overflowsTotal)
	prometheus.MustRegister(chunkBytes)

	for _, typ := range []string{model.MessagePartial, model.MessageFinal, model.MessageError} {
		messagesTotal.WithLabelValues(typ)
	}
}
