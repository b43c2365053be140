package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://node.example.com/v1/")

		if c.baseURL != "https://node.example.com/v1" {
			t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want 3", c.maxRetries)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		hc := &http.Client{}
		c := NewClient("https://node.example.com",
			WithHTTPClient(hc),
			WithTimeout(5*time.Second),
			WithRetries(7, 20*time.Millisecond),
			WithLogger(nil),
		)
		if c.httpClient != hc {
			t.Error("custom HTTP client not set")
		}
		if hc.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", hc.Timeout)
		}
		if c.maxRetries != 7 || c.retryBackoff != 20*time.Millisecond {
			t.Errorf("retries = %d/%v, want 7/20ms", c.maxRetries, c.retryBackoff)
		}
		if c.logger == nil {
			t.Error("nil logger option should keep the default")
		}
	})
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{500, true},
		{503, true},
		{429, true},
		{400, false},
		{404, false},
		{410, false},
	}
	for _, tt := range tests {
		err := &APIError{StatusCode: tt.code}
		if got := err.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable() for %d = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestLedgerInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/" {
			t.Errorf("path = %q, want /v1/", r.URL.Path)
		}
		w.Write([]byte(`{"chain_id":4,"epoch":"12","ledger_version":"123456","oldest_ledger_version":"0","ledger_timestamp":"1700000000000000","block_height":"9000"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL + "/v1")
	info, err := c.LedgerInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.LedgerVersion != 123456 {
		t.Errorf("LedgerVersion = %d, want 123456", info.LedgerVersion)
	}
	if info.ChainID != 4 {
		t.Errorf("ChainID = %d, want 4", info.ChainID)
	}
}

func TestTransactions(t *testing.T) {
	t.Run("inclusive range", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/transactions" {
				t.Errorf("path = %q, want /transactions", r.URL.Path)
			}
			q := r.URL.Query()
			if q.Get("start") != "100" {
				t.Errorf("start = %q, want 100", q.Get("start"))
			}
			if q.Get("limit") != "100" {
				t.Errorf("limit = %q, want 100", q.Get("limit"))
			}
			w.Write([]byte(`[
				{"type":"block_metadata_transaction","version":"100","events":[]},
				{"type":"user_transaction","version":"101","success":true,
				 "payload":{"type":"entry_function_payload","function":"0x2::privacy_proxy::open_position"},
				 "events":[{"type":"0x2::privacy_proxy::PositionOpened","sequence_number":"3","data":{"position_id":"0xabc"}}]}
			]`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		txs, err := c.Transactions(context.Background(), 100, 199)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 2 {
			t.Fatalf("len(txs) = %d, want 2", len(txs))
		}
		tx := txs[1]
		if tx.Type != UserTransaction || tx.Version != 101 {
			t.Errorf("tx = %s@%d, want user_transaction@101", tx.Type, tx.Version)
		}
		if tx.Payload.Function != "0x2::privacy_proxy::open_position" {
			t.Errorf("Function = %q", tx.Payload.Function)
		}
		if len(tx.Events) != 1 || tx.Events[0].SequenceNumber != 3 {
			t.Fatalf("events = %+v", tx.Events)
		}
		var data map[string]string
		if err := json.Unmarshal(tx.Events[0].Data, &data); err != nil {
			t.Fatalf("event data: %v", err)
		}
		if data["position_id"] != "0xabc" {
			t.Errorf("position_id = %q, want 0xabc", data["position_id"])
		}
	})

	t.Run("empty range skips request", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
		}))
		defer server.Close()

		txs, err := NewClient(server.URL).Transactions(context.Background(), 10, 9)
		if err != nil || txs != nil {
			t.Fatalf("Transactions(10, 9) = %v, %v; want nil, nil", txs, err)
		}
		if hits != 0 {
			t.Errorf("hits = %d, want 0", hits)
		}
	})
}

func TestRetryPolicy(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"ledger_version":"5"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 5*time.Millisecond))
		info, err := c.LedgerInfo(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.LedgerVersion != 5 {
			t.Errorf("LedgerVersion = %d, want 5", info.LedgerVersion)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("does not retry on 4xx", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusGone)
			w.Write([]byte(`{"message":"Ledger version(9) has been pruned","error_code":"version_pruned"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 5*time.Millisecond))
		_, err := c.Transactions(context.Background(), 0, 9)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusGone {
			t.Errorf("StatusCode = %d, want 410", apiErr.StatusCode)
		}
		if apiErr.ErrorCode != "version_pruned" {
			t.Errorf("ErrorCode = %q, want version_pruned", apiErr.ErrorCode)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 5*time.Millisecond))
		_, err := c.LedgerInfo(context.Background())
		if err == nil || !strings.Contains(err.Error(), "gave up after 3 attempts") {
			t.Fatalf("err = %v, want gave up after 3 attempts", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).LedgerInfo(context.Background())
		if err == nil || !strings.Contains(err.Error(), "decode /") {
			t.Fatalf("err = %v, want unmarshal error", err)
		}
	})
}

func TestU64(t *testing.T) {
	var v struct {
		A U64 `json:"a"`
		B U64 `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"18446744073709551615","b":42}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if uint64(v.A) != ^uint64(0) || v.B != 42 {
		t.Errorf("got %d, %d", v.A, v.B)
	}
	if err := json.Unmarshal([]byte(`{"a":"-1"}`), &v); err == nil {
		t.Error("expected error for negative value")
	}
}
