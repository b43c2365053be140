package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxfi/nox-indexer/internal/ledger"
	"github.com/noxfi/nox-indexer/internal/model"
)

func raw(typ, data string) ledger.Event {
	return ledger.Event{Type: typ, Data: json.RawMessage(data)}
}

var owner11 = "0x" + strings.Repeat("11", 32)

func TestParseTag(t *testing.T) {
	tag, err := ParseTag("0x2::token_pool::NoteCreated<0x1::aptos_coin::AptosCoin>")
	require.NoError(t, err)
	assert.Equal(t, "token_pool", tag.Module)
	assert.Equal(t, "NoteCreated", tag.Name)
	assert.Equal(t, TagNoteCreated, tag.Suffix())

	long, err := ParseTag("0x0000000000000000000000000000000000000000000000000000000000000002::token_pool::NoteCreated")
	require.NoError(t, err)
	assert.Equal(t, tag.Address, long.Address)

	for _, bad := range []string{"", "NoteCreated", "0x2::token_pool", "2::m::N", "0xzz::m::N", "0x2::m::N::X"} {
		_, err := ParseTag(bad)
		assert.ErrorIs(t, err, ErrInvalidTag, "input %q", bad)
	}
}

func TestDecode_PositionOpened(t *testing.T) {
	ev, err := Decode(raw("0x2::privacy_proxy::PositionOpened",
		`{"position_id":"0xabc","is_long":true,"entry_price":"100","margin":"10","size":"5","owner_hash":"`+owner11+`"}`))
	require.NoError(t, err)

	opened, ok := ev.(PositionOpened)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "0x0abc", opened.PositionID.String())
	assert.Equal(t, owner11, opened.Owner.String())
	assert.True(t, opened.IsLong)
	assert.Equal(t, "100", opened.EntryPrice)
	assert.Equal(t, "10", opened.Margin)
	assert.Equal(t, "5", opened.Size)
	assert.Equal(t, "position_opened", ev.Kind())
}

func TestDecode_PositionOpened_ShortOwnerPadded(t *testing.T) {
	ev, err := Decode(raw("0x2::privacy_proxy::PositionOpened",
		`{"position_id":"0x01","is_long":false,"entry_price":"1.5","margin":2,"size":"3","owner_hash":"0x1"}`))
	require.NoError(t, err)

	opened := ev.(PositionOpened)
	expected, _ := model.ParseOwner("0x" + strings.Repeat("00", 31) + "01")
	assert.Equal(t, expected, opened.Owner)
	assert.Equal(t, "2", opened.Margin)
}

func TestDecode_PositionOpened_OversizeOwnerRejected(t *testing.T) {
	_, err := Decode(raw("0x2::privacy_proxy::PositionOpened",
		`{"position_id":"0x01","is_long":true,"entry_price":"1","margin":"1","size":"1","owner_hash":"0x`+strings.Repeat("ab", 33)+`"}`))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorContains(t, err, "owner_hash")
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		data string
	}{
		{"missing position_id", "0x2::privacy_proxy::PositionOpened", `{"is_long":true,"entry_price":"1","margin":"1","size":"1","owner_hash":"0x1"}`},
		{"wrong-typed is_long", "0x2::privacy_proxy::PositionOpened", `{"position_id":"0x1","is_long":"yes","entry_price":"1","margin":"1","size":"1","owner_hash":"0x1"}`},
		{"invalid decimal", "0x2::privacy_proxy::PositionOpened", `{"position_id":"0x1","is_long":true,"entry_price":"abc","margin":"1","size":"1","owner_hash":"0x1"}`},
		{"invalid hex id", "0x2::clearing_house::PositionClosed", `{"position_id":"0xzz","pnl":"1","user":"0x1"}`},
		{"missing pnl", "0x2::clearing_house::PositionClosed", `{"position_id":"0x1","user":"0x1"}`},
		{"null nonce", "0x2::token_pool::NoteCreated", `{"note_nonce":null,"receiver_hash":"0xdead","amount":"1"}`},
		{"missing note_id", "0x2::token_pool::NoteClaimed", `{}`},
		{"not an object", "0x2::clearing_house::PositionLiquidated", `[]`},
		{"no data", "0x2::clearing_house::PositionLiquidated", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(raw(tt.typ, tt.data))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecode_Notes(t *testing.T) {
	ev, err := Decode(raw("0x2::token_pool::NoteCreated", `{"note_nonce":"7","receiver_hash":"0xdead","amount":"300"}`))
	require.NoError(t, err)
	created := ev.(NoteCreated)
	assert.Equal(t, uint64(7), created.Nonce)
	assert.Equal(t, "0xdead", created.ReceiverHash.String())
	assert.Equal(t, "300", created.Amount)

	// Numeric nonce is accepted as well.
	ev, err = Decode(raw("0x2::token_pool::NoteCreated", `{"note_nonce":7,"receiver_hash":"0xdead","amount":300}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ev.(NoteCreated).Nonce)

	ev, err = Decode(raw("0x2::token_pool::NoteClaimed", `{"note_id":"0x0000000000000007"}`))
	require.NoError(t, err)
	assert.Equal(t, model.NoteIDFromNonce(7), ev.(NoteClaimed).NoteID)

	// Short hex ids are widened to the 8-byte form.
	ev, err = Decode(raw("0x2::token_pool::NoteClaimed", `{"note_id":"0x7"}`))
	require.NoError(t, err)
	assert.Equal(t, model.NoteIDFromNonce(7), ev.(NoteClaimed).NoteID)

	ev, err = Decode(raw("0x2::token_pool::NoteClaimed", `{"note_id":7}`))
	require.NoError(t, err)
	assert.Equal(t, model.NoteIDFromNonce(7), ev.(NoteClaimed).NoteID)
}

func TestDecode_CloseAndLiquidate(t *testing.T) {
	ev, err := Decode(raw("0x2::clearing_house::PositionClosed", `{"position_id":"0xabc","pnl":"-50","user":"0x1111"}`))
	require.NoError(t, err)
	closed := ev.(PositionClosed)
	assert.Equal(t, "-50", closed.PnL)
	assert.Equal(t, "0x1111", closed.User)

	ev, err = Decode(raw("0x2::clearing_house::PositionLiquidated", `{"position_id":"0xabc"}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", ev.(PositionLiquidated).User)
}

func TestDecode_Unknown(t *testing.T) {
	for _, typ := range []string{
		"0x1::coin::DepositEvent",
		"0x2::token_pool::NoteBurned",
		"0x2::other::PositionOpened",
		"vector<u8>",
	} {
		ev, err := Decode(raw(typ, `{"anything":1}`))
		require.NoError(t, err, typ)
		assert.Equal(t, Unknown{Type: typ}, ev)
	}
}
