package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceivedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_processor_events_received_total",
			Help: "Counts number of events pushed to the processor queue",
		},
		[]string{"processor"},
	)
	eventsProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_processor_events_processed_total",
			Help: "Counts number of events handed to the batch handler successfully",
		},
		[]string{"processor"},
	)
	batchesFailedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_processor_batches_failed_total",
			Help: "Counts number of batches dropped after a handler failure",
		},
		[]string{"processor"},
	)
	overflowCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_processor_overflow_total",
			Help: "Counts number of cycles that left more than one batch in the queue",
		},
		[]string{"processor"},
	)
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batch_processor_queue_length",
			Help: "Number of events waiting in the processor queue after the last drain",
		},
		[]string{"processor"},
	)
)
