package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts ledger operations by name and outcome
	// (ok, rejected, conflict, not_found, error).
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "ledger_operations_total",
		Help:      "Ledger operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// VersionConflicts counts saves lost to the optimistic-concurrency check
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "version_conflicts_total",
		Help:      "Saves rejected because the item version changed underneath the writer",
	})

	// LowStockItems tracks how many active items are at or below minimum stock
	LowStockItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "inventory",
		Name:      "low_stock_items",
		Help:      "Active items at or below their minimum stock",
	})

	// CategoryMutations counts category tree mutations by operation and outcome
	CategoryMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "category_mutations_total",
		Help:      "Category tree mutations by operation and outcome",
	}, []string{"operation", "outcome"})
)
