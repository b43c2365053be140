package model

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// OwnerIDSize is the width of an account address or public key.
const OwnerIDSize = 32

var (
	// ErrEmptyHex is returned for identifiers with no hex digits.
	ErrEmptyHex = errors.New("model: empty hex identifier")

	// ErrInvalidHex is returned for identifiers that are not valid hex.
	ErrInvalidHex = errors.New("model: invalid hex identifier")

	// ErrOwnerTooLong is returned when an address decodes to more than 32 bytes.
	// Oversize addresses are rejected rather than truncated.
	ErrOwnerTooLong = errors.New("model: owner address longer than 32 bytes")
)

// HexBytes is an opaque identifier rendered as 0x-prefixed lowercase hex.
type HexBytes []byte

// ParseHex decodes a hex identifier with an optional 0x prefix. Odd-length
// input is treated as having an implicit leading zero, matching the short
// form the ledger uses for addresses and ids ("0xabc" == "0x0abc").
func ParseHex(s string) (HexBytes, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if s == "" {
		return nil, ErrEmptyHex
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}

func (h HexBytes) String() string {
	return "0x" + hex.EncodeToString(h)
}

// Key returns the identifier as a map key.
func (h HexBytes) Key() string { return string(h) }

func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *HexBytes) UnmarshalText(text []byte) error {
	b, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// OwnerID is the 32-byte owner of positions and metadata.
type OwnerID [OwnerIDSize]byte

// ParseOwner decodes an address. Short addresses are left-padded with zeros
// ("0x1" is the account 0x00..01); addresses over 32 bytes are rejected.
func ParseOwner(s string) (OwnerID, error) {
	var id OwnerID
	b, err := ParseHex(s)
	if err != nil {
		return id, err
	}
	return OwnerFromBytes(b)
}

// OwnerFromBytes left-pads b into an OwnerID.
func OwnerFromBytes(b []byte) (OwnerID, error) {
	var id OwnerID
	if len(b) > OwnerIDSize {
		return id, ErrOwnerTooLong
	}
	copy(id[OwnerIDSize-len(b):], b)
	return id, nil
}

func (o OwnerID) String() string {
	return "0x" + hex.EncodeToString(o[:])
}

// Key returns the owner as a map key.
func (o OwnerID) Key() string { return string(o[:]) }

func (o OwnerID) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *OwnerID) UnmarshalText(text []byte) error {
	id, err := ParseOwner(string(text))
	if err != nil {
		return err
	}
	*o = id
	return nil
}

// NoteIDFromNonce derives a note id: the nonce as 8 big-endian bytes.
func NoteIDFromNonce(nonce uint64) HexBytes {
	id := make(HexBytes, 8)
	binary.BigEndian.PutUint64(id, nonce)
	return id
}
