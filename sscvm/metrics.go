// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sscvm

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/avalanchego/utils/wrappers"
)

type metrics struct {
	blocksProduced     prometheus.Counter
	blocksSkipped      prometheus.Counter
	transactionsFailed prometheus.Counter
	blockExecution     prometheus.Histogram
	halted             prometheus.Gauge
}

func newMetrics(namespace string, registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		blocksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_produced",
			Help:      "Number of blocks committed",
		}),
		blocksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_skipped",
			Help:      "Number of batches that did not produce a block",
		}),
		transactionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_failed",
			Help:      "Number of executed transactions whose effects were discarded",
		}),
		blockExecution: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_execution_seconds",
			Help:      "Time spent producing a block",
			Buckets:   prometheus.DefBuckets,
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "halted",
			Help:      "1 if block production halted on a fatal error",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.blocksProduced),
		registerer.Register(m.blocksSkipped),
		registerer.Register(m.transactionsFailed),
		registerer.Register(m.blockExecution),
		registerer.Register(m.halted),
	)
	return m, errs.Err
}
