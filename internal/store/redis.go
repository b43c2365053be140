package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noxfi/nox-indexer/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache.
//
// Only positions in a final state (Closed or Liquidated) are cached: they
// never change again, so a late cache fill cannot overwrite a newer value.
// Open positions, open sets, historical pages, notes and metadata always
// come from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.PutPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.ID))
	return nil
}

func (s *CachedStore) AddOpenPosition(ctx context.Context, owner model.OwnerID, p *model.Position) error {
	if err := s.primary.AddOpenPosition(ctx, owner, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.ID))
	return nil
}

func (s *CachedStore) MoveToHistorical(ctx context.Context, id model.HexBytes, status model.PositionStatus, pnl, closer string) error {
	if err := s.primary.MoveToHistorical(ctx, id, status, pnl, closer); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(id))
	return nil
}

// SetMetadata drops any key left by an older release that cached blobs.
func (s *CachedStore) SetMetadata(ctx context.Context, owner model.OwnerID, blob []byte) error {
	if err := s.primary.SetMetadata(ctx, owner, blob); err != nil {
		return err
	}
	s.rdb.Del(ctx, metadataKey(owner))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPosition(ctx context.Context, id model.HexBytes) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil && final(p.Status) {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}

	if final(p.Status) {
		if data, err := json.Marshal(p); err == nil {
			s.rdb.Set(ctx, positionKey(id), data, s.ttl)
		}
	}
	return p, nil
}

// final reports whether a position can no longer change status.
func final(status model.PositionStatus) bool {
	return status == model.StatusClosed || status == model.StatusLiquidated
}

// --- Passthrough (not cached) ---

// GetMetadata is last-write-wins per owner; a read-through fill could land
// after a newer write, so blobs are never cached.
func (s *CachedStore) GetMetadata(ctx context.Context, owner model.OwnerID) ([]byte, error) {
	return s.primary.GetMetadata(ctx, owner)
}

func (s *CachedStore) GetOpenPositions(ctx context.Context, owner model.OwnerID) ([]model.Position, error) {
	return s.primary.GetOpenPositions(ctx, owner)
}

func (s *CachedStore) GetHistoricalPositions(ctx context.Context, owner model.OwnerID, cursor, pageSize int) (model.Page, error) {
	return s.primary.GetHistoricalPositions(ctx, owner, cursor, pageSize)
}

func (s *CachedStore) AddUnspentNote(ctx context.Context, note *model.UnspentNote) error {
	return s.primary.AddUnspentNote(ctx, note)
}

func (s *CachedStore) RemoveUnspentNote(ctx context.Context, id model.HexBytes) (bool, error) {
	return s.primary.RemoveUnspentNote(ctx, id)
}

func (s *CachedStore) GetUnspentNotes(ctx context.Context, receiverHash model.HexBytes) ([]model.UnspentNote, error) {
	return s.primary.GetUnspentNotes(ctx, receiverHash)
}

func (s *CachedStore) LoadCursor(ctx context.Context) (uint64, bool, error) {
	return s.primary.LoadCursor(ctx)
}

func (s *CachedStore) SaveCursor(ctx context.Context, version uint64) error {
	return s.primary.SaveCursor(ctx, version)
}

// --- Cache helpers ---

func positionKey(id model.HexBytes) string    { return fmt.Sprintf("position:%s", id) }
func metadataKey(owner model.OwnerID) string { return fmt.Sprintf("metadata:%s", owner) }
