// Package event decodes raw ledger events into typed variants. Routing is by
// the module::name suffix of the event's type tag; anything unrecognised
// decodes to Unknown and is ignored downstream.
package event

import (
	"github.com/noxfi/nox-indexer/internal/model"
)

// Routed type tag suffixes.
const (
	TagNoteCreated        = "token_pool::NoteCreated"
	TagNoteClaimed        = "token_pool::NoteClaimed"
	TagPositionOpened     = "privacy_proxy::PositionOpened"
	TagPositionClosed     = "clearing_house::PositionClosed"
	TagPositionLiquidated = "clearing_house::PositionLiquidated"
)

// Event is one decoded ledger event.
type Event interface {
	// Kind is a short snake_case name used in logs and metric labels.
	Kind() string
}

type NoteCreated struct {
	Nonce        uint64
	ReceiverHash model.HexBytes
	Amount       string
}

type NoteClaimed struct {
	NoteID model.HexBytes
}

type PositionOpened struct {
	PositionID model.HexBytes
	Owner      model.OwnerID
	IsLong     bool
	EntryPrice string
	Margin     string
	Size       string
}

type PositionClosed struct {
	PositionID model.HexBytes
	PnL        string
	User       string
}

type PositionLiquidated struct {
	PositionID model.HexBytes
	User       string
}

// Unknown is any event whose type is not routed.
type Unknown struct {
	Type string
}

func (NoteCreated) Kind() string        { return "note_created" }
func (NoteClaimed) Kind() string        { return "note_claimed" }
func (PositionOpened) Kind() string     { return "position_opened" }
func (PositionClosed) Kind() string     { return "position_closed" }
func (PositionLiquidated) Kind() string { return "position_liquidated" }
func (Unknown) Kind() string            { return "unknown" }
