package settler

import (
	"github.com/textileio/auctiond/metrics"
)

func (s *Settler) initMetrics() {
	s.metricTransfers = metrics.Int64Counter("settler.transfers", "Escrow transfers")
}
