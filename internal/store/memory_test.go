package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/noxfi/nox-indexer/internal/model"
)

func owner(b byte) model.OwnerID {
	var id model.OwnerID
	for i := range id {
		id[i] = b
	}
	return id
}

func position(id string) *model.Position {
	pid, err := model.ParseHex(id)
	if err != nil {
		panic(err)
	}
	return &model.Position{
		ID:         pid,
		IsLong:     true,
		EntryPrice: "100",
		Margin:     "10",
		Size:       "5",
	}
}

func containsPosition(ps []model.Position, id model.HexBytes) bool {
	for _, p := range ps {
		if bytes.Equal(p.ID, id) {
			return true
		}
	}
	return false
}

func TestAddOpenPosition_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := owner(0x11)

	if err := s.AddOpenPosition(ctx, o, position("0xabc")); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.AddOpenPosition(ctx, o, position("0xabc")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second add: expected ErrDuplicate, got %v", err)
	}

	open, _ := s.GetOpenPositions(ctx, o)
	if len(open) != 1 {
		t.Errorf("expected exactly 1 open position, got %d", len(open))
	}
}

func TestAddOpenPosition_DuplicateOfHistoricalRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := owner(0x11)
	p := position("0xabc")

	s.AddOpenPosition(ctx, o, p)
	if err := s.MoveToHistorical(ctx, p.ID, model.StatusClosed, "50", "0x11"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddOpenPosition(ctx, o, position("0xabc")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for replayed open, got %v", err)
	}

	open, _ := s.GetOpenPositions(ctx, o)
	if len(open) != 0 {
		t.Errorf("replayed open must not reappear, got %d open", len(open))
	}
}

func TestMoveToHistorical(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := owner(0x11)
	p := position("0xabc")
	s.AddOpenPosition(ctx, o, p)

	if err := s.MoveToHistorical(ctx, p.ID, model.StatusClosed, "50", "0x11"); err != nil {
		t.Fatalf("move: %v", err)
	}

	open, _ := s.GetOpenPositions(ctx, o)
	if containsPosition(open, p.ID) {
		t.Error("position still open after move")
	}

	page, _ := s.GetHistoricalPositions(ctx, o, 0, 20)
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 historical item, got %d", len(page.Items))
	}
	h := page.Items[0]
	if h.Status != model.StatusClosed || h.PnL != "50" || h.ClosedBy != "0x11" {
		t.Errorf("unexpected historical entry: %+v", h)
	}
	if page.NextCursor != nil {
		t.Errorf("expected nil next cursor, got %d", *page.NextCursor)
	}

	got, err := s.GetPosition(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusClosed {
		t.Errorf("GetPosition status = %s, want Closed", got.Status)
	}
}

func TestMoveToHistorical_NotOpen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := owner(0x11)
	p := position("0xabc")

	if err := s.MoveToHistorical(ctx, p.ID, model.StatusClosed, "1", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}

	s.AddOpenPosition(ctx, o, p)
	s.MoveToHistorical(ctx, p.ID, model.StatusLiquidated, model.LiquidatedPnL, "x")
	if err := s.MoveToHistorical(ctx, p.ID, model.StatusClosed, "1", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replayed close: expected ErrNotFound, got %v", err)
	}

	page, _ := s.GetHistoricalPositions(ctx, o, 0, 20)
	if len(page.Items) != 1 {
		t.Errorf("replayed close must not duplicate history, got %d", len(page.Items))
	}
}

func TestMoveToHistorical_AtomicUnderConcurrentReads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := owner(0x22)

	const n = 200
	ids := make([]model.HexBytes, n)
	for i := 0; i < n; i++ {
		p := position(fmt.Sprintf("0x%04x", i+1))
		ids[i] = p.ID
		s.AddOpenPosition(ctx, o, p)
	}

	inHistory := func(id model.HexBytes) bool {
		page, _ := s.GetHistoricalPositions(ctx, o, 0, n)
		for _, h := range page.Items {
			if bytes.Equal(h.ID, id) {
				return true
			}
		}
		return false
	}

	var wg sync.WaitGroup
	errs := make(chan string, 4)
	done := make(chan struct{})

	// Open first, then history: a position missing from open must already
	// be in history (never neither).
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, id := range ids {
				open, _ := s.GetOpenPositions(ctx, o)
				if !containsPosition(open, id) && !inHistory(id) {
					errs <- fmt.Sprintf("%s observed in neither index", id)
					return
				}
			}
		}
	}()

	// History first, then open: a position already in history must not be
	// open (never both).
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, id := range ids {
				if inHistory(id) {
					open, _ := s.GetOpenPositions(ctx, o)
					if containsPosition(open, id) {
						errs <- fmt.Sprintf("%s observed in both indexes", id)
						return
					}
				}
			}
		}
	}()

	for _, id := range ids {
		if err := s.MoveToHistorical(ctx, id, model.StatusClosed, "0", "closer"); err != nil {
			t.Fatalf("move %s: %v", id, err)
		}
	}
	close(done)
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
}

func TestGetHistoricalPositions_Pagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := owner(0x33)

	for i := 1; i <= 25; i++ {
		p := position(fmt.Sprintf("0x%02x", i))
		s.AddOpenPosition(ctx, o, p)
		s.MoveToHistorical(ctx, p.ID, model.StatusClosed, fmt.Sprint(i), "c")
	}

	var seen []string
	cursor := 0
	wantNext := []int{10, 20}
	for page := 0; ; page++ {
		res, err := s.GetHistoricalPositions(ctx, o, cursor, 10)
		if err != nil {
			t.Fatal(err)
		}
		for _, h := range res.Items {
			seen = append(seen, h.PnL)
		}
		if res.NextCursor == nil {
			if len(res.Items) != 5 {
				t.Errorf("last page has %d items, want 5", len(res.Items))
			}
			break
		}
		if *res.NextCursor != wantNext[page] {
			t.Errorf("page %d next_cursor = %d, want %d", page, *res.NextCursor, wantNext[page])
		}
		cursor = *res.NextCursor
	}

	if len(seen) != 25 {
		t.Fatalf("collected %d items, want 25", len(seen))
	}
	for i, pnl := range seen {
		if pnl != fmt.Sprint(i+1) {
			t.Errorf("item %d pnl = %s, want %d (insertion order)", i, pnl, i+1)
		}
	}
}

func TestGetHistoricalPositions_DefaultPageSize(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := owner(0x44)
	for i := 1; i <= 30; i++ {
		p := position(fmt.Sprintf("0x%02x", i))
		s.AddOpenPosition(ctx, o, p)
		s.MoveToHistorical(ctx, p.ID, model.StatusClosed, "0", "c")
	}

	res, _ := s.GetHistoricalPositions(ctx, o, 0, 0)
	if len(res.Items) != DefaultPageSize {
		t.Errorf("got %d items, want default %d", len(res.Items), DefaultPageSize)
	}

	res, _ = s.GetHistoricalPositions(ctx, o, 100, 10)
	if len(res.Items) != 0 || res.NextCursor != nil {
		t.Errorf("cursor past end: got %d items, next %v", len(res.Items), res.NextCursor)
	}
}

func TestUnspentNoteLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	receiver, _ := model.ParseHex("0xdead")

	for nonce := uint64(0); nonce < 50; nonce++ {
		note := &model.UnspentNote{
			NoteID: model.NoteIDFromNonce(nonce),
			Note:   model.Note{Nonce: nonce, ReceiverHash: receiver, Value: "300"},
		}
		if err := s.AddUnspentNote(ctx, note); err != nil {
			t.Fatal(err)
		}
		removed, err := s.RemoveUnspentNote(ctx, note.NoteID)
		if err != nil || !removed {
			t.Fatalf("nonce %d: removed=%v err=%v", nonce, removed, err)
		}
	}

	notes, _ := s.GetUnspentNotes(ctx, receiver)
	if len(notes) != 0 {
		t.Errorf("expected empty unspent set, got %d", len(notes))
	}

	removed, err := s.RemoveUnspentNote(ctx, model.NoteIDFromNonce(999))
	if err != nil || removed {
		t.Errorf("unknown note: removed=%v err=%v", removed, err)
	}
}

func TestGetUnspentNotes_ByReceiver(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, _ := model.ParseHex("0xaa")
	b, _ := model.ParseHex("0xbb")

	s.AddUnspentNote(ctx, &model.UnspentNote{NoteID: model.NoteIDFromNonce(1), Note: model.Note{Nonce: 1, ReceiverHash: a, Value: "1"}})
	s.AddUnspentNote(ctx, &model.UnspentNote{NoteID: model.NoteIDFromNonce(2), Note: model.Note{Nonce: 2, ReceiverHash: a, Value: "2"}})
	s.AddUnspentNote(ctx, &model.UnspentNote{NoteID: model.NoteIDFromNonce(3), Note: model.Note{Nonce: 3, ReceiverHash: b, Value: "3"}})
	// Re-adding an existing id is a no-op, even with another receiver.
	s.AddUnspentNote(ctx, &model.UnspentNote{NoteID: model.NoteIDFromNonce(3), Note: model.Note{Nonce: 3, ReceiverHash: a, Value: "3"}})

	na, _ := s.GetUnspentNotes(ctx, a)
	nb, _ := s.GetUnspentNotes(ctx, b)
	if len(na) != 2 || len(nb) != 1 {
		t.Errorf("got %d notes for a, %d for b; want 2 and 1", len(na), len(nb))
	}
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	o := owner(0x55)

	if blob, _ := s.GetMetadata(ctx, o); blob != nil {
		t.Errorf("expected nil metadata, got %x", blob)
	}

	if err := s.SetMetadata(ctx, o, make([]byte, model.MaxMetadataSize+1)); !errors.Is(err, ErrMetadataTooLarge) {
		t.Errorf("expected ErrMetadataTooLarge, got %v", err)
	}

	s.SetMetadata(ctx, o, []byte("first"))
	s.SetMetadata(ctx, o, []byte("second"))
	blob, _ := s.GetMetadata(ctx, o)
	if string(blob) != "second" {
		t.Errorf("metadata = %q, want last write", blob)
	}
}

func TestSaveCursor_Monotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, _ := s.LoadCursor(ctx); ok {
		t.Fatal("fresh store should have no cursor")
	}
	s.SaveCursor(ctx, 500)
	s.SaveCursor(ctx, 400)
	v, ok, _ := s.LoadCursor(ctx)
	if !ok || v != 500 {
		t.Errorf("cursor = %d (ok=%v), want 500", v, ok)
	}
}
