// Package model defines the domain types derived from the ledger event stream.
// Monetary fields are decimal strings exactly as emitted on chain, never
// float64.
package model

import (
	"encoding/json"
	"time"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusOpen       PositionStatus = "Open"
	StatusClosed     PositionStatus = "Closed"
	StatusLiquidated PositionStatus = "Liquidated"
)

// LiquidatedPnL is the pnl recorded for liquidated positions.
const LiquidatedPnL = "Liquidated"

// MaxMetadataSize is the largest metadata blob accepted per owner.
const MaxMetadataSize = 4096

// Position is a leveraged position opened on chain.
type Position struct {
	ID         HexBytes       `json:"position_id"`
	Owner      OwnerID        `json:"owner"`
	IsLong     bool           `json:"is_long"`
	EntryPrice string         `json:"entry_price"`
	Margin     string         `json:"margin"`
	Size       string         `json:"size"`
	Status     PositionStatus `json:"status"`
	OpenedAt   uint64         `json:"opened_at_version,omitempty"`
}

// HistoricalPosition is a position frozen at close or liquidation time.
// Once created, these are never modified or deleted.
type HistoricalPosition struct {
	Position
	PnL      string    `json:"pnl"`
	ClosedBy string    `json:"closed_by"`
	ClosedAt time.Time `json:"closed_at"`
}

// Note is the spendable credential carried by an unspent note.
type Note struct {
	Nonce        uint64   `json:"note_nonce"`
	ReceiverHash HexBytes `json:"receiver_hash"`
	Value        string   `json:"value"`
}

// UnspentNote is a note that has been created but not yet claimed.
type UnspentNote struct {
	NoteID HexBytes `json:"note_id"`
	Note
}

// Page is one slice of an owner's historical log.
// NextCursor is nil once the end of the log has been reached.
type Page struct {
	Items      []HistoricalPosition `json:"items"`
	NextCursor *int                 `json:"next_cursor"`
}

// MarshalJSON keeps an empty page rendered as [] rather than null.
func (p Page) MarshalJSON() ([]byte, error) {
	type page Page
	if p.Items == nil {
		p.Items = []HistoricalPosition{}
	}
	return json.Marshal(page(p))
}
