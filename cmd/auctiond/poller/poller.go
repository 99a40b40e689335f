package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/auctiond/chain"
	"github.com/textileio/auctiond/cmd/auctiond/capture"
	"github.com/textileio/auctiond/cmd/auctiond/store"
	"github.com/textileio/auctiond/metrics"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("auctiond/poller")

// Config holds the configuration for creating a new Poller.
type Config struct {
	// Interval is the time between ticks.
	Interval time.Duration
	// StartBlock is the first block scanned when no cursor was persisted.
	// Zero starts at the current head.
	StartBlock uint64
	// MaxBlockRange caps the blocks requested per log query. Zero is unlimited.
	MaxBlockRange uint64
	// TopicFilter restricts log queries to transfers addressed to the escrow.
	TopicFilter bool
}

// Poller scans the ledger for confidential transfers to the escrow and
// captures them as bids.
type Poller struct {
	conf     Config
	ledger   chain.Ledger
	store    *store.Store
	capturer *capture.Capturer

	tickLock  sync.Mutex
	lastBlock atomic.Uint64
	started   bool

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	metricCaptured metric.Int64Counter
	metricTicks    metric.Int64Counter
}

// New returns a new Poller. The cursor is restored from the store.
func New(conf Config, ledger chain.Ledger, s *store.Store, c *capture.Capturer) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		conf:     conf,
		ledger:   ledger,
		store:    s,
		capturer: c,
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
	if last := s.LastBlock(); last > 0 {
		p.lastBlock.Store(last)
		p.started = true
	} else if conf.StartBlock > 0 {
		p.lastBlock.Store(conf.StartBlock - 1)
		p.started = true
	}
	p.initMetrics()
	return p
}

// Start runs ticks every configured interval until Close is called.
func (p *Poller) Start() {
	go p.run()
}

// Close stops the poller and waits for the running tick to finish.
func (p *Poller) Close() error {
	p.cancel()
	<-p.stopped
	return nil
}

// LastBlock returns the last fully processed block.
func (p *Poller) LastBlock() uint64 {
	return p.lastBlock.Load()
}

func (p *Poller) run() {
	defer close(p.stopped)
	for {
		select {
		case <-time.After(p.conf.Interval):
			if err := p.Tick(p.ctx); err != nil {
				log.Errorf("polling transfers: %v", err)
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// Tick scans the blocks mined since the last tick. On error the cursor is
// left at the last fully processed block, so the next tick retries the
// remaining range; bids captured before the error are deduplicated by key.
func (p *Poller) Tick(ctx context.Context) (err error) {
	p.tickLock.Lock()
	defer p.tickLock.Unlock()
	defer func() { metrics.MetricIncrCounter(ctx, err, p.metricTicks) }()

	head, err := p.ledger.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("getting block number: %w", err)
	}
	if !p.started {
		if err := p.advance(head); err != nil {
			return err
		}
		p.started = true
		log.Infof("starting at block %d", head)
		return nil
	}
	last := p.lastBlock.Load()
	if head <= last {
		return nil
	}

	var recipient *common.Address
	if p.conf.TopicFilter {
		escrow := p.capturer.Escrow()
		recipient = &escrow
	}
	for from := last + 1; from <= head; {
		to := head
		if p.conf.MaxBlockRange > 0 && to-from+1 > p.conf.MaxBlockRange {
			to = from + p.conf.MaxBlockRange - 1
		}
		logs, err := p.ledger.FilterTransfers(ctx, from, to, recipient)
		if err != nil {
			return fmt.Errorf("filtering transfers [%d, %d]: %w", from, to, err)
		}
		for _, l := range logs {
			b, inserted, err := p.capturer.Capture(l)
			if errors.Is(err, capture.ErrNotToEscrow) {
				continue
			} else if errors.Is(err, capture.ErrUndecodable) {
				log.Warnf("skipping log %s:%d: %v", l.TxHash, l.Index, err)
				continue
			} else if err != nil {
				return fmt.Errorf("capturing bid: %w", err)
			}
			if inserted {
				p.metricCaptured.Add(ctx, 1)
				log.Infof("bid captured %s from %s amount %d block %d", b.Key(), b.From, b.Amount, b.BlockNumber)
			}
		}
		if err := p.advance(to); err != nil {
			return err
		}
		from = to + 1
	}
	return nil
}

func (p *Poller) advance(block uint64) error {
	if err := p.store.SetLastBlock(block); err != nil {
		return fmt.Errorf("saving last block: %w", err)
	}
	p.lastBlock.Store(block)
	return nil
}
