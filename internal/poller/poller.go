// Package poller tails the ledger and feeds relevant transactions to the
// dispatcher.
//
// The Chain Poller:
//   - Starts a bounded lookback behind the ledger head, or just after the
//     persisted cursor if that is newer
//   - Fetches fixed-size inclusive version chunks
//   - Passes only user transactions calling the configured module to the
//     dispatcher
//   - Advances and persists its cursor only after a whole chunk is applied
//   - Restarts the cycle after a fixed delay on store failure, resuming from
//     the in-memory cursor
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/noxfi/nox-indexer/internal/event"
	"github.com/noxfi/nox-indexer/internal/ledger"
	"github.com/noxfi/nox-indexer/internal/metrics"
	"github.com/noxfi/nox-indexer/internal/model"
)

// Ledger is the upstream read surface used by the poller.
type Ledger interface {
	LedgerInfo(ctx context.Context) (*ledger.LedgerInfo, error)
	Transactions(ctx context.Context, start, end uint64) ([]ledger.Transaction, error)
}

// Applier applies one filtered transaction. A returned error is treated as
// fatal to the current cycle.
type Applier interface {
	ApplyTransaction(ctx context.Context, tx ledger.Transaction) error
}

// CursorStore persists the applied ledger version.
type CursorStore interface {
	LoadCursor(ctx context.Context) (uint64, bool, error)
	SaveCursor(ctx context.Context, version uint64) error
}

// Config holds poller configuration.
type Config struct {
	ModuleAddress model.OwnerID // Only calls into this address are indexed
	ChunkSize     uint64        // Versions per fetch (default: 100)
	Lookback      uint64        // Versions behind head on cold start (default: 100)
	PollInterval  time.Duration // Wait when caught up or after a fetch error (default: 5s)
	ChunkDelay    time.Duration // Pause between chunks (default: 500ms)
	RestartDelay  time.Duration // Wait before restarting a failed cycle (default: 10s)
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    100,
		Lookback:     100,
		PollInterval: 5 * time.Second,
		ChunkDelay:   500 * time.Millisecond,
		RestartDelay: 10 * time.Second,
	}
}

// Poller is the single writer driving ledger ingestion.
type Poller struct {
	cfg     Config
	ledger  Ledger
	applier Applier
	cursors CursorStore
	logger  *slog.Logger

	mu      sync.Mutex
	next    uint64 // first version not yet applied
	started bool   // next is valid
	applied uint64 // last applied version
	hasRun  bool   // applied is valid
}

// New creates a new Poller.
func New(cfg Config, l Ledger, applier Applier, cursors CursorStore, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 100
	}
	return &Poller{
		cfg:     cfg,
		ledger:  l,
		applier: applier,
		cursors: cursors,
		logger:  logger.With("component", "poller"),
	}
}

// Run is the supervisor loop. It never returns an error: failed cycles are
// logged and restarted after RestartDelay. It returns when ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		"module", p.cfg.ModuleAddress,
		"chunk_size", p.cfg.ChunkSize,
		"lookback", p.cfg.Lookback,
	)

	for {
		err := p.cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		metrics.PollerRestarts.Inc()
		p.logger.Error("poller cycle failed, restarting",
			"err", err,
			"delay", p.cfg.RestartDelay,
		)
		if !sleep(ctx, p.cfg.RestartDelay) {
			return nil
		}
	}
}

// Cursor returns the last fully applied ledger version.
func (p *Poller) Cursor() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied, p.hasRun
}

// cycle runs until ctx is done or a fatal error occurs.
func (p *Poller) cycle(ctx context.Context) error {
	from, err := p.startVersion(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("indexing from version", "version", from)

	for {
		info, err := p.ledger.LedgerInfo(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.FetchErrors.WithLabelValues("ledger_info").Inc()
			p.logger.Warn("failed to get ledger info", "err", err)
			if !sleep(ctx, p.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		head := uint64(info.LedgerVersion)
		metrics.LedgerHeadVersion.Set(float64(head))

		if from >= head {
			if !sleep(ctx, p.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		to := min(from+p.cfg.ChunkSize-1, head)
		txs, err := p.ledger.Transactions(ctx, from, to)
		if err == nil && len(txs) == 0 {
			err = errors.New("empty transaction range")
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.FetchErrors.WithLabelValues("transactions").Inc()
			p.logger.Warn("failed to fetch transactions", "from", from, "to", to, "err", err)
			if !sleep(ctx, p.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		// The node may return fewer versions than asked for; only the
		// returned prefix counts as applied.
		if last := uint64(txs[len(txs)-1].Version); last >= from && last < to {
			to = last
		}

		if err := p.applyChunk(ctx, txs, to); err != nil {
			return err
		}
		if err := p.cursors.SaveCursor(ctx, to); err != nil {
			return fmt.Errorf("save cursor %d: %w", to, err)
		}
		p.advance(to)

		metrics.ChunksApplied.Inc()
		metrics.CursorVersion.Set(float64(to))
		p.logger.Debug("chunk applied", "from", from, "to", to, "head", head)

		from = to + 1
		if !sleep(ctx, p.cfg.ChunkDelay) {
			return ctx.Err()
		}
	}
}

// startVersion picks the first version of a cycle. A restarted cycle resumes
// where the previous one stopped; a cold start looks back from head but never
// before the persisted cursor.
func (p *Poller) startVersion(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	next, started := p.next, p.started
	p.mu.Unlock()
	if started {
		return next, nil
	}

	info, err := p.ledger.LedgerInfo(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("ledger_info").Inc()
		return 0, fmt.Errorf("get starting ledger info: %w", err)
	}
	head := uint64(info.LedgerVersion)
	from := head - min(head, p.cfg.Lookback)

	saved, ok, err := p.cursors.LoadCursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if ok && saved+1 > from {
		from = saved + 1
	}

	p.mu.Lock()
	p.next, p.started = from, true
	if ok {
		p.applied, p.hasRun = saved, true
	}
	p.mu.Unlock()
	return from, nil
}

func (p *Poller) applyChunk(ctx context.Context, txs []ledger.Transaction, to uint64) error {
	for _, tx := range txs {
		if uint64(tx.Version) > to {
			break
		}
		if !p.relevant(tx) {
			metrics.TransactionsTotal.WithLabelValues("filtered").Inc()
			continue
		}
		if err := p.applier.ApplyTransaction(ctx, tx); err != nil {
			return err
		}
		metrics.TransactionsTotal.WithLabelValues("dispatched").Inc()
	}
	return nil
}

// relevant reports whether tx is a user transaction calling into the
// configured module address.
func (p *Poller) relevant(tx ledger.Transaction) bool {
	if tx.Type != ledger.UserTransaction || tx.Payload.Function == "" {
		return false
	}
	fn, err := event.ParseTag(tx.Payload.Function)
	if err != nil {
		return false
	}
	return fn.Address == p.cfg.ModuleAddress
}

func (p *Poller) advance(to uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = to + 1
	if !p.hasRun || to > p.applied {
		p.applied, p.hasRun = to, true
	}
}

// sleep waits for d, returning false if ctx is done first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
