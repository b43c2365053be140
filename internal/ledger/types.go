package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// UserTransaction is the transaction type carrying entry function calls.
const UserTransaction = "user_transaction"

// U64 is an unsigned 64-bit integer that the node encodes as a JSON string.
// Plain JSON numbers are accepted too.
type U64 uint64

func (u *U64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("u64: %w", err)
	}
	*u = U64(v)
	return nil
}

func (u U64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(u), 10))), nil
}

// LedgerInfo is the response of GET /.
type LedgerInfo struct {
	ChainID             int `json:"chain_id"`
	Epoch               U64 `json:"epoch"`
	LedgerVersion       U64 `json:"ledger_version"`
	OldestLedgerVersion U64 `json:"oldest_ledger_version"`
	LedgerTimestamp     U64 `json:"ledger_timestamp"`
	BlockHeight         U64 `json:"block_height"`
}

// Transaction is one committed transaction. Only the fields the indexer
// reads are decoded.
type Transaction struct {
	Type     string  `json:"type"`
	Version  U64     `json:"version"`
	Hash     string  `json:"hash"`
	Success  bool    `json:"success"`
	Sender   string  `json:"sender,omitempty"`
	Payload  Payload `json:"payload"`
	Events   []Event `json:"events"`
	VMStatus string  `json:"vm_status,omitempty"`
}

// Payload is the entry function invocation of a user transaction.
type Payload struct {
	Type     string `json:"type"`
	Function string `json:"function"`
}

// Event is a raw emitted event: a fully qualified Move type tag and its
// untyped data document.
type Event struct {
	Type           string          `json:"type"`
	SequenceNumber U64             `json:"sequence_number"`
	Data           json.RawMessage `json:"data"`
}
