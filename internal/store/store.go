// Package store defines the persistence interface for the indexer's derived
// state. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (sharded, for development and tests).
package store

import (
	"context"
	"errors"

	"github.com/noxfi/nox-indexer/internal/model"
)

// DefaultPageSize is used when a history page size is not given.
const DefaultPageSize = 20

var (
	// ErrNotFound is returned when an entity does not exist, or when a
	// position to be closed is not currently open.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a position id has already been applied,
	// either as open or historical.
	ErrDuplicate = errors.New("store: duplicate position")

	// ErrMetadataTooLarge is returned for metadata blobs over 4096 bytes.
	ErrMetadataTooLarge = errors.New("store: metadata exceeds 4096 bytes")
)

// Store is the persistence interface shared by the chain poller (writer) and
// the query API (readers, metadata writers). Every method is safe for
// concurrent use.
type Store interface {
	// --- Positions ---

	// PutPosition upserts a position record by id without touching the
	// open or historical indexes.
	PutPosition(ctx context.Context, p *model.Position) error

	// GetPosition returns the position with the given id in its current
	// status.
	GetPosition(ctx context.Context, id model.HexBytes) (*model.Position, error)

	// AddOpenPosition inserts p into owner's open set. Returns ErrDuplicate
	// if the id is already open or historical.
	AddOpenPosition(ctx context.Context, owner model.OwnerID, p *model.Position) error

	// MoveToHistorical atomically removes an open position from the open
	// index and appends it to the owner's historical log. Returns
	// ErrNotFound if id is not currently open.
	MoveToHistorical(ctx context.Context, id model.HexBytes, status model.PositionStatus, pnl, closer string) error

	// GetOpenPositions returns the full, unordered open set for owner.
	GetOpenPositions(ctx context.Context, owner model.OwnerID) ([]model.Position, error)

	// GetHistoricalPositions returns up to pageSize entries of owner's
	// historical log starting at offset cursor, in insertion order.
	GetHistoricalPositions(ctx context.Context, owner model.OwnerID, cursor, pageSize int) (model.Page, error)

	// --- Notes ---

	// AddUnspentNote inserts a note; re-adding the same note id is a no-op.
	AddUnspentNote(ctx context.Context, note *model.UnspentNote) error

	// RemoveUnspentNote deletes a note. Removing an absent id is not an
	// error; removed reports whether the note existed.
	RemoveUnspentNote(ctx context.Context, id model.HexBytes) (removed bool, err error)

	// GetUnspentNotes returns the unspent notes payable to receiverHash.
	GetUnspentNotes(ctx context.Context, receiverHash model.HexBytes) ([]model.UnspentNote, error)

	// --- Metadata ---

	// SetMetadata replaces owner's metadata blob.
	SetMetadata(ctx context.Context, owner model.OwnerID, blob []byte) error

	// GetMetadata returns owner's blob, or nil if none was ever set.
	GetMetadata(ctx context.Context, owner model.OwnerID) ([]byte, error)

	// --- Ledger cursor ---

	// LoadCursor returns the last saved ledger version.
	LoadCursor(ctx context.Context) (version uint64, ok bool, err error)

	// SaveCursor records version as applied. Versions lower than the saved
	// value are ignored.
	SaveCursor(ctx context.Context, version uint64) error
}

// pageBounds clamps a cursor/page-size pair against a log of length n and
// returns the slice bounds and the cursor for the following page.
func pageBounds(n, cursor, pageSize int) (start, end int, next *int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if cursor < 0 {
		cursor = 0
	}
	start = min(cursor, n)
	end = min(start+pageSize, n)
	if end-start == pageSize {
		nc := end
		next = &nc
	}
	return start, end, next
}
