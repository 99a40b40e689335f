package binder

import (
	"github.com/textileio/auctiond/metrics"
)

func (b *Binder) initMetrics() {
	b.metricBinds = metrics.Int64Counter("binder.binds", "Bind requests")
	b.metricFallbacks = metrics.Int64Counter("binder.fallbacks", "Binds that read the receipt directly")
}
