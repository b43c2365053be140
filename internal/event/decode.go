package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noxfi/nox-indexer/internal/ledger"
	"github.com/noxfi/nox-indexer/internal/model"
)

// unknownActor is recorded as the closer when an event omits the user field.
const unknownActor = "unknown"

// noteIDSize is the width of a nonce-derived note id.
const noteIDSize = 8

var ErrMalformed = errors.New("event: malformed payload")

// Decode classifies a raw event and decodes its payload. Unrouted types
// return Unknown with a nil error; a routed type with a missing or
// wrong-typed field returns an error wrapping ErrMalformed.
func Decode(ev ledger.Event) (Event, error) {
	tag, err := ParseTag(ev.Type)
	if err != nil {
		return Unknown{Type: ev.Type}, nil
	}

	switch tag.Suffix() {
	case TagNoteCreated:
		return decodeNoteCreated(ev.Data)
	case TagNoteClaimed:
		return decodeNoteClaimed(ev.Data)
	case TagPositionOpened:
		return decodePositionOpened(ev.Data)
	case TagPositionClosed:
		return decodePositionClosed(ev.Data)
	case TagPositionLiquidated:
		return decodePositionLiquidated(ev.Data)
	default:
		return Unknown{Type: ev.Type}, nil
	}
}

func decodeNoteCreated(data json.RawMessage) (Event, error) {
	var raw struct {
		NoteNonce    *ledger.U64 `json:"note_nonce"`
		ReceiverHash *string     `json:"receiver_hash"`
		Amount       *Decimal    `json:"amount"`
	}
	if err := unmarshal("NoteCreated", data, &raw); err != nil {
		return nil, err
	}
	if raw.NoteNonce == nil {
		return nil, missing("NoteCreated", "note_nonce")
	}
	if raw.ReceiverHash == nil {
		return nil, missing("NoteCreated", "receiver_hash")
	}
	if raw.Amount == nil {
		return nil, missing("NoteCreated", "amount")
	}

	receiver, err := model.ParseHex(*raw.ReceiverHash)
	if err != nil {
		return nil, invalid("NoteCreated", "receiver_hash", err)
	}

	return NoteCreated{
		Nonce:        uint64(*raw.NoteNonce),
		ReceiverHash: receiver,
		Amount:       string(*raw.Amount),
	}, nil
}

func decodeNoteClaimed(data json.RawMessage) (Event, error) {
	var raw struct {
		NoteID json.RawMessage `json:"note_id"`
	}
	if err := unmarshal("NoteClaimed", data, &raw); err != nil {
		return nil, err
	}
	if len(raw.NoteID) == 0 || bytes.Equal(raw.NoteID, []byte("null")) {
		return nil, missing("NoteClaimed", "note_id")
	}

	// A bare number is the nonce itself; a string is the hex id.
	if raw.NoteID[0] != '"' {
		var nonce ledger.U64
		if err := json.Unmarshal(raw.NoteID, &nonce); err != nil {
			return nil, invalid("NoteClaimed", "note_id", err)
		}
		return NoteClaimed{NoteID: model.NoteIDFromNonce(uint64(nonce))}, nil
	}

	var s string
	if err := json.Unmarshal(raw.NoteID, &s); err != nil {
		return nil, invalid("NoteClaimed", "note_id", err)
	}
	id, err := model.ParseHex(s)
	if err != nil {
		return nil, invalid("NoteClaimed", "note_id", err)
	}
	if len(id) < noteIDSize {
		padded := make(model.HexBytes, noteIDSize)
		copy(padded[noteIDSize-len(id):], id)
		id = padded
	}
	return NoteClaimed{NoteID: id}, nil
}

func decodePositionOpened(data json.RawMessage) (Event, error) {
	var raw struct {
		PositionID *string  `json:"position_id"`
		IsLong     *bool    `json:"is_long"`
		EntryPrice *Decimal `json:"entry_price"`
		Margin     *Decimal `json:"margin"`
		Size       *Decimal `json:"size"`
		OwnerHash  *string  `json:"owner_hash"`
	}
	if err := unmarshal("PositionOpened", data, &raw); err != nil {
		return nil, err
	}
	switch {
	case raw.PositionID == nil:
		return nil, missing("PositionOpened", "position_id")
	case raw.IsLong == nil:
		return nil, missing("PositionOpened", "is_long")
	case raw.EntryPrice == nil:
		return nil, missing("PositionOpened", "entry_price")
	case raw.Margin == nil:
		return nil, missing("PositionOpened", "margin")
	case raw.Size == nil:
		return nil, missing("PositionOpened", "size")
	case raw.OwnerHash == nil:
		return nil, missing("PositionOpened", "owner_hash")
	}

	id, err := model.ParseHex(*raw.PositionID)
	if err != nil {
		return nil, invalid("PositionOpened", "position_id", err)
	}
	owner, err := model.ParseOwner(*raw.OwnerHash)
	if err != nil {
		return nil, invalid("PositionOpened", "owner_hash", err)
	}

	return PositionOpened{
		PositionID: id,
		Owner:      owner,
		IsLong:     *raw.IsLong,
		EntryPrice: string(*raw.EntryPrice),
		Margin:     string(*raw.Margin),
		Size:       string(*raw.Size),
	}, nil
}

func decodePositionClosed(data json.RawMessage) (Event, error) {
	var raw struct {
		PositionID *string  `json:"position_id"`
		PnL        *Decimal `json:"pnl"`
		User       *string  `json:"user"`
	}
	if err := unmarshal("PositionClosed", data, &raw); err != nil {
		return nil, err
	}
	if raw.PositionID == nil {
		return nil, missing("PositionClosed", "position_id")
	}
	if raw.PnL == nil {
		return nil, missing("PositionClosed", "pnl")
	}

	id, err := model.ParseHex(*raw.PositionID)
	if err != nil {
		return nil, invalid("PositionClosed", "position_id", err)
	}

	return PositionClosed{
		PositionID: id,
		PnL:        string(*raw.PnL),
		User:       actor(raw.User),
	}, nil
}

func decodePositionLiquidated(data json.RawMessage) (Event, error) {
	var raw struct {
		PositionID *string `json:"position_id"`
		User       *string `json:"user"`
	}
	if err := unmarshal("PositionLiquidated", data, &raw); err != nil {
		return nil, err
	}
	if raw.PositionID == nil {
		return nil, missing("PositionLiquidated", "position_id")
	}

	id, err := model.ParseHex(*raw.PositionID)
	if err != nil {
		return nil, invalid("PositionLiquidated", "position_id", err)
	}

	return PositionLiquidated{
		PositionID: id,
		User:       actor(raw.User),
	}, nil
}

// Decimal is a decimal number carried as a JSON string or number. The text
// is kept exactly as emitted once it has been validated.
type Decimal string

func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	if _, err := decimal.NewFromString(s); err != nil {
		return fmt.Errorf("invalid decimal %q", s)
	}
	*d = Decimal(s)
	return nil
}

func unmarshal(name string, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s: no data", ErrMalformed, name)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return nil
}

func missing(name, field string) error {
	return fmt.Errorf("%w: %s: missing field %q", ErrMalformed, name, field)
}

func invalid(name, field string, err error) error {
	return fmt.Errorf("%w: %s: field %q: %v", ErrMalformed, name, field, err)
}

func actor(user *string) string {
	if user == nil || *user == "" {
		return unknownActor
	}
	return *user
}
