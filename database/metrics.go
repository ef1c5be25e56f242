/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const outcomeConflict = "conflict"

// TxMetrics counts transactions per isolation level and outcome. A nil
// *TxMetrics is valid and records nothing.
type TxMetrics struct {
	transactions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewTxMetrics creates the collectors and registers them on reg when reg is
// not nil.
func NewTxMetrics(reg prometheus.Registerer) (*TxMetrics, error) {
	m := &TxMetrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "isolevel",
			Name:      "transactions_total",
			Help:      "Transactions by isolation level and outcome (committed, rolled_back, conflict, idle).",
		}, []string{"level", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "isolevel",
			Name:      "transaction_duration_seconds",
			Help:      "Time from BEGIN to COMMIT or ROLLBACK.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"level"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.transactions, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *TxMetrics) observe(level IsolationLevel, state TxState, conflict bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := state.Name()
	if conflict {
		outcome = outcomeConflict
	}
	m.transactions.WithLabelValues(level.Name(), outcome).Inc()
	m.duration.WithLabelValues(level.Name()).Observe(d.Seconds())
}
