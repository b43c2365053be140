// Package dispatch applies decoded ledger events to the state store.
//
// Failures are isolated per event: a malformed payload or an idempotent
// conflict (re-opening a known position, closing one that is not open) is
// logged and the remaining events still apply. Only store I/O errors are
// returned, so the poller can abandon the chunk without advancing its cursor.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/noxfi/nox-indexer/internal/event"
	"github.com/noxfi/nox-indexer/internal/ledger"
	"github.com/noxfi/nox-indexer/internal/metrics"
	"github.com/noxfi/nox-indexer/internal/model"
	"github.com/noxfi/nox-indexer/internal/store"
)

// Outcome labels recorded per event.
const (
	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultNotFound  = "not_found"
	resultIgnored   = "ignored"
	resultMalformed = "malformed"
	resultFailed    = "failed"
)

// Notification describes a position lifecycle change for live subscribers.
// Notes are never published.
type Notification struct {
	Type          string               `json:"type"`
	PositionID    model.HexBytes       `json:"position_id"`
	Owner         *model.OwnerID       `json:"owner,omitempty"`
	Status        model.PositionStatus `json:"status"`
	PnL           string               `json:"pnl,omitempty"`
	LedgerVersion uint64               `json:"ledger_version"`
}

// Notifier receives a Notification after each applied position event.
// Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Dispatcher routes decoded events to their store handlers.
type Dispatcher struct {
	store    store.Store
	notifier Notifier
	logger   *slog.Logger
}

// New creates a dispatcher writing to st. notifier may be nil.
func New(st store.Store, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    st,
		notifier: notifier,
		logger:   logger.With("component", "dispatcher"),
	}
}

// ApplyTransaction applies every event of tx in order. The returned error is
// non-nil only for store failures; everything else is absorbed.
func (d *Dispatcher) ApplyTransaction(ctx context.Context, tx ledger.Transaction) error {
	version := uint64(tx.Version)

	for i, raw := range tx.Events {
		ev, err := event.Decode(raw)
		if err != nil {
			metrics.EventsTotal.WithLabelValues("unknown", resultMalformed).Inc()
			d.logger.Warn("skipping malformed event",
				"version", version,
				"index", i,
				"type", raw.Type,
				"err", err,
			)
			continue
		}

		if err := d.Apply(ctx, version, ev); err != nil {
			metrics.EventsTotal.WithLabelValues(ev.Kind(), resultFailed).Inc()
			return fmt.Errorf("apply %s (version %d, event %d): %w", ev.Kind(), version, i, err)
		}
	}
	return nil
}

// Apply applies one decoded event emitted at the given ledger version.
func (d *Dispatcher) Apply(ctx context.Context, version uint64, ev event.Event) error {
	switch e := ev.(type) {
	case event.NoteCreated:
		return d.noteCreated(ctx, e)
	case event.NoteClaimed:
		return d.noteClaimed(ctx, e)
	case event.PositionOpened:
		return d.positionOpened(ctx, version, e)
	case event.PositionClosed:
		return d.moveToHistorical(ctx, version, e.PositionID, model.StatusClosed, e.PnL, e.User)
	case event.PositionLiquidated:
		return d.moveToHistorical(ctx, version, e.PositionID, model.StatusLiquidated, model.LiquidatedPnL, e.User)
	default:
		metrics.EventsTotal.WithLabelValues(ev.Kind(), resultIgnored).Inc()
		return nil
	}
}

func (d *Dispatcher) noteCreated(ctx context.Context, e event.NoteCreated) error {
	note := &model.UnspentNote{
		NoteID: model.NoteIDFromNonce(e.Nonce),
		Note: model.Note{
			Nonce:        e.Nonce,
			ReceiverHash: e.ReceiverHash,
			Value:        e.Amount,
		},
	}
	if err := d.store.AddUnspentNote(ctx, note); err != nil {
		return err
	}
	metrics.EventsTotal.WithLabelValues(e.Kind(), resultApplied).Inc()
	d.logger.Debug("note created", "note_id", note.NoteID, "receiver_hash", note.ReceiverHash)
	return nil
}

func (d *Dispatcher) noteClaimed(ctx context.Context, e event.NoteClaimed) error {
	removed, err := d.store.RemoveUnspentNote(ctx, e.NoteID)
	if err != nil {
		return err
	}
	if !removed {
		metrics.EventsTotal.WithLabelValues(e.Kind(), resultNotFound).Inc()
		d.logger.Debug("claimed note not unspent", "note_id", e.NoteID)
		return nil
	}
	metrics.EventsTotal.WithLabelValues(e.Kind(), resultApplied).Inc()
	d.logger.Debug("note claimed", "note_id", e.NoteID)
	return nil
}

func (d *Dispatcher) positionOpened(ctx context.Context, version uint64, e event.PositionOpened) error {
	p := &model.Position{
		ID:         e.PositionID,
		Owner:      e.Owner,
		IsLong:     e.IsLong,
		EntryPrice: e.EntryPrice,
		Margin:     e.Margin,
		Size:       e.Size,
		Status:     model.StatusOpen,
		OpenedAt:   version,
	}

	err := d.store.AddOpenPosition(ctx, e.Owner, p)
	if errors.Is(err, store.ErrDuplicate) {
		metrics.EventsTotal.WithLabelValues(e.Kind(), resultDuplicate).Inc()
		d.logger.Info("position already indexed", "position_id", e.PositionID, "version", version)
		return nil
	}
	if err != nil {
		return err
	}

	metrics.EventsTotal.WithLabelValues(e.Kind(), resultApplied).Inc()
	d.logger.Info("position opened", "position_id", e.PositionID, "owner", e.Owner, "version", version)

	owner := e.Owner
	d.notify(Notification{
		Type:          e.Kind(),
		PositionID:    e.PositionID,
		Owner:         &owner,
		Status:        model.StatusOpen,
		LedgerVersion: version,
	})
	return nil
}

func (d *Dispatcher) moveToHistorical(ctx context.Context, version uint64, id model.HexBytes, status model.PositionStatus, pnl, closer string) error {
	kind := "position_closed"
	if status == model.StatusLiquidated {
		kind = "position_liquidated"
	}

	err := d.store.MoveToHistorical(ctx, id, status, pnl, closer)
	if errors.Is(err, store.ErrNotFound) {
		metrics.EventsTotal.WithLabelValues(kind, resultNotFound).Inc()
		d.logger.Info("close for position not open", "position_id", id, "status", status, "version", version)
		return nil
	}
	if err != nil {
		return err
	}

	metrics.EventsTotal.WithLabelValues(kind, resultApplied).Inc()
	d.logger.Info("position moved to history", "position_id", id, "status", status, "pnl", pnl, "version", version)

	d.notify(Notification{
		Type:          kind,
		PositionID:    id,
		Status:        status,
		PnL:           pnl,
		LedgerVersion: version,
	})
	return nil
}

func (d *Dispatcher) notify(n Notification) {
	if d.notifier != nil {
		d.notifier.Notify(n)
	}
}
