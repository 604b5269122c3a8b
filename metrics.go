package mega

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// transferMetrics counts transfer activity. Collectors are always live; they are only
// exported when a registerer was configured.
type transferMetrics struct {
	bytes      *prometheus.CounterVec
	transfers  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	integrity  prometheus.Counter
	chunkBytes prometheus.Histogram
}

func newTransferMetrics(reg prometheus.Registerer) *transferMetrics {
	m := &transferMetrics{
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gomega_transfer_bytes_total",
				Help: "Total plaintext bytes transferred",
			},
			[]string{"direction"},
		),

		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gomega_transfers_total",
				Help: "Total number of file transfers",
			},
			[]string{"direction", "status"},
		),

		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gomega_chunk_retries_total",
				Help: "Total number of chunk attempts that were retried",
			},
			[]string{"direction"},
		),

		integrity: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gomega_integrity_failures_total",
				Help: "Total number of downloads rejected by the MAC check",
			},
		),

		chunkBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gomega_chunk_size_bytes",
				Help:    "Size of transferred chunks",
				Buckets: prometheus.ExponentialBuckets(128<<10, 2, 4),
			},
		),
	}

	if reg != nil {
		m.bytes = register(reg, m.bytes)
		m.transfers = register(reg, m.transfers)
		m.retries = register(reg, m.retries)
		m.integrity = register(reg, m.integrity)
		m.chunkBytes = register(reg, m.chunkBytes)
	}

	return m
}

// register registers c, reusing an identical collector registered by another manager.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError

		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}

		panic(err)
	}

	return c
}

func (m *transferMetrics) chunk(direction string, size, attempts int) {
	m.bytes.WithLabelValues(direction).Add(float64(size))
	m.chunkBytes.Observe(float64(size))

	if attempts > 1 {
		m.retries.WithLabelValues(direction).Add(float64(attempts - 1))
	}
}

func (m *transferMetrics) done(direction string, err error) {
	status := "ok"

	switch {
	case errors.Is(err, ErrIntegrity):
		status = "integrity"
		m.integrity.Inc()

	case err != nil:
		status = "failed"
	}

	m.transfers.WithLabelValues(direction, status).Inc()
}
