package poller

import (
	"github.com/textileio/auctiond/metrics"
)

func (p *Poller) initMetrics() {
	p.metricCaptured = metrics.Int64Counter("poller.bids.captured", "Bids captured from the ledger")
	p.metricTicks = metrics.Int64Counter("poller.ticks", "Poller ticks")
	metrics.Int64Gauge("poller.last_block", "Last fully processed block", func() int64 {
		return int64(p.lastBlock.Load())
	})
}
