package store

import (
	"context"
	"sync"
	"time"

	"github.com/noxfi/nox-indexer/internal/model"
)

// MemoryStore implements Store with sharded in-memory maps. Each index is
// split across shardCount independently locked shards; there is no global
// lock. Not suitable for production (no persistence).
//
// Lock order is owner shard, then position shard (and receiver shard, then
// note shard). Readers never hold more than one lock.
type MemoryStore struct {
	owners    *shardMap[*ownerState]
	positions *shardMap[*positionRecord]
	receivers *shardMap[map[string]model.UnspentNote]
	notes     *shardMap[model.HexBytes]
	metadata  *shardMap[[]byte]

	cursorMu  sync.Mutex
	cursor    uint64
	hasCursor bool

	now func() time.Time
}

// ownerState holds one owner's open set and historical log.
type ownerState struct {
	open    map[string]model.Position
	history []model.HistoricalPosition
}

// positionRecord is the id-keyed view of a position. indexed is false for
// records written by PutPosition that are in neither owner index.
type positionRecord struct {
	pos     model.Position
	indexed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners:    newShardMap[*ownerState](),
		positions: newShardMap[*positionRecord](),
		receivers: newShardMap[map[string]model.UnspentNote](),
		notes:     newShardMap[model.HexBytes](),
		metadata:  newShardMap[[]byte](),
		now:       time.Now,
	}
}

func (s *MemoryStore) PutPosition(_ context.Context, p *model.Position) error {
	ps := s.positions.of(p.ID.Key())
	ps.mu.Lock()
	defer ps.mu.Unlock()

	pos := clonePosition(*p)
	rec, ok := ps.m[pos.ID.Key()]
	if !ok {
		ps.m[pos.ID.Key()] = &positionRecord{pos: pos}
		return nil
	}
	if rec.indexed {
		// Owner and status belong to the open/historical indexes.
		pos.Owner, pos.Status = rec.pos.Owner, rec.pos.Status
	}
	rec.pos = pos
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id model.HexBytes) (*model.Position, error) {
	ps := s.positions.of(id.Key())
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	rec, ok := ps.m[id.Key()]
	if !ok {
		return nil, ErrNotFound
	}
	p := clonePosition(rec.pos)
	return &p, nil
}

func (s *MemoryStore) AddOpenPosition(_ context.Context, owner model.OwnerID, p *model.Position) error {
	osh := s.owners.of(owner.Key())
	osh.mu.Lock()
	defer osh.mu.Unlock()

	ps := s.positions.of(p.ID.Key())
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if rec, ok := ps.m[p.ID.Key()]; ok && rec.indexed {
		return ErrDuplicate
	}

	pos := clonePosition(*p)
	pos.Owner = owner
	pos.Status = model.StatusOpen

	st, ok := osh.m[owner.Key()]
	if !ok {
		st = &ownerState{open: make(map[string]model.Position)}
		osh.m[owner.Key()] = st
	}
	st.open[pos.ID.Key()] = pos
	ps.m[pos.ID.Key()] = &positionRecord{pos: pos, indexed: true}
	return nil
}

func (s *MemoryStore) MoveToHistorical(_ context.Context, id model.HexBytes, status model.PositionStatus, pnl, closer string) error {
	// The owner of a position never changes, so it is safe to resolve it
	// before taking the owner lock and re-check once both are held.
	ps := s.positions.of(id.Key())
	ps.mu.RLock()
	rec, ok := ps.m[id.Key()]
	var owner model.OwnerID
	if ok {
		owner, ok = rec.pos.Owner, rec.indexed
	}
	ps.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	osh := s.owners.of(owner.Key())
	osh.mu.Lock()
	defer osh.mu.Unlock()
	ps.mu.Lock()
	defer ps.mu.Unlock()

	st := osh.m[owner.Key()]
	if st == nil {
		return ErrNotFound
	}
	pos, ok := st.open[id.Key()]
	if !ok {
		return ErrNotFound
	}
	rec = ps.m[id.Key()]

	pos.Status = status
	delete(st.open, id.Key())
	st.history = append(st.history, model.HistoricalPosition{
		Position: pos,
		PnL:      pnl,
		ClosedBy: closer,
		ClosedAt: s.now().UTC(),
	})
	rec.pos = pos
	return nil
}

func (s *MemoryStore) GetOpenPositions(_ context.Context, owner model.OwnerID) ([]model.Position, error) {
	osh := s.owners.of(owner.Key())
	osh.mu.RLock()
	defer osh.mu.RUnlock()

	st := osh.m[owner.Key()]
	if st == nil {
		return []model.Position{}, nil
	}
	result := make([]model.Position, 0, len(st.open))
	for _, p := range st.open {
		result = append(result, clonePosition(p))
	}
	return result, nil
}

func (s *MemoryStore) GetHistoricalPositions(_ context.Context, owner model.OwnerID, cursor, pageSize int) (model.Page, error) {
	osh := s.owners.of(owner.Key())
	osh.mu.RLock()
	defer osh.mu.RUnlock()

	var log []model.HistoricalPosition
	if st := osh.m[owner.Key()]; st != nil {
		log = st.history
	}

	start, end, next := pageBounds(len(log), cursor, pageSize)
	items := make([]model.HistoricalPosition, 0, end-start)
	for _, h := range log[start:end] {
		h.Position = clonePosition(h.Position)
		items = append(items, h)
	}
	return model.Page{Items: items, NextCursor: next}, nil
}

func (s *MemoryStore) AddUnspentNote(_ context.Context, note *model.UnspentNote) error {
	rs := s.receivers.of(note.ReceiverHash.Key())
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ns := s.notes.of(note.NoteID.Key())
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, exists := ns.m[note.NoteID.Key()]; exists {
		return nil
	}

	byID, ok := rs.m[note.ReceiverHash.Key()]
	if !ok {
		byID = make(map[string]model.UnspentNote)
		rs.m[note.ReceiverHash.Key()] = byID
	}
	n := cloneNote(*note)
	byID[n.NoteID.Key()] = n
	ns.m[n.NoteID.Key()] = n.ReceiverHash
	return nil
}

func (s *MemoryStore) RemoveUnspentNote(_ context.Context, id model.HexBytes) (bool, error) {
	receiver, ok := s.notes.lookup(id.Key())
	if !ok {
		return false, nil
	}

	rs := s.receivers.of(receiver.Key())
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ns := s.notes.of(id.Key())
	ns.mu.Lock()
	defer ns.mu.Unlock()

	// A concurrent remove may have won the race.
	if _, ok := ns.m[id.Key()]; !ok {
		return false, nil
	}
	delete(ns.m, id.Key())
	if byID := rs.m[receiver.Key()]; byID != nil {
		delete(byID, id.Key())
		if len(byID) == 0 {
			delete(rs.m, receiver.Key())
		}
	}
	return true, nil
}

func (s *MemoryStore) GetUnspentNotes(_ context.Context, receiverHash model.HexBytes) ([]model.UnspentNote, error) {
	rs := s.receivers.of(receiverHash.Key())
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	byID := rs.m[receiverHash.Key()]
	result := make([]model.UnspentNote, 0, len(byID))
	for _, n := range byID {
		result = append(result, cloneNote(n))
	}
	return result, nil
}

func (s *MemoryStore) SetMetadata(_ context.Context, owner model.OwnerID, blob []byte) error {
	if len(blob) > model.MaxMetadataSize {
		return ErrMetadataTooLarge
	}
	ms := s.metadata.of(owner.Key())
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.m[owner.Key()] = append([]byte(nil), blob...)
	return nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, owner model.OwnerID) ([]byte, error) {
	ms := s.metadata.of(owner.Key())
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	blob, ok := ms.m[owner.Key()]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, blob...), nil
}

func (s *MemoryStore) LoadCursor(_ context.Context) (uint64, bool, error) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	return s.cursor, s.hasCursor, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, version uint64) error {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	if s.hasCursor && version < s.cursor {
		return nil
	}
	s.cursor = version
	s.hasCursor = true
	return nil
}

// clonePosition copies p so callers cannot mutate stored id bytes.
func clonePosition(p model.Position) model.Position {
	p.ID = append(model.HexBytes(nil), p.ID...)
	return p
}

func cloneNote(n model.UnspentNote) model.UnspentNote {
	n.NoteID = append(model.HexBytes(nil), n.NoteID...)
	n.ReceiverHash = append(model.HexBytes(nil), n.ReceiverHash...)
	return n
}
