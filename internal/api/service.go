// Package api serves the indexed state over HTTP.
//
// Public routes look positions up by id or owner address. Private routes
// derive the owner from a signed capability (see package auth) so a caller
// can only read or write its own records.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noxfi/nox-indexer/internal/auth"
	"github.com/noxfi/nox-indexer/internal/model"
	"github.com/noxfi/nox-indexer/internal/store"
)

// HeaderReceiverHash carries the receiver hash for unspent note lookups.
const HeaderReceiverHash = "x-receiver-hash"

// MaxPageSize caps page_size on history queries.
const MaxPageSize = 100

// CursorSource reports the last applied ledger version.
type CursorSource interface {
	Cursor() (uint64, bool)
}

// Service handles the query endpoints.
type Service struct {
	store    store.Store
	verifier *auth.Verifier
	cursor   CursorSource
	logger   *slog.Logger
}

// NewService creates a query service. cursor may be nil, in which case
// /health omits the ledger version.
func NewService(st store.Store, verifier *auth.Verifier, cursor CursorSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		verifier: verifier,
		cursor:   cursor,
		logger:   logger.With("component", "api"),
	}
}

// --- Response types ---

// PositionResponse is the body of GET /positions/{id}.
type PositionResponse struct {
	Position *model.Position `json:"position"`
}

// OpenPositionsResponse lists an owner's open positions.
type OpenPositionsResponse struct {
	OpenPositions []model.Position `json:"open_positions"`
}

// UnspentNotesResponse lists the notes payable to a receiver hash.
type UnspentNotesResponse struct {
	UnspentNotes []model.UnspentNote `json:"unspent_notes"`
}

// MetadataResponse carries the hex-encoded blob, or null when none is set.
type MetadataResponse struct {
	EncryptedMetadata *string `json:"encrypted_metadata"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	LedgerVersion *uint64 `json:"ledger_version"`
}

// --- Public handlers ---

// GetPosition handles GET /positions/{id}.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseHex(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "invalid position id", http.StatusBadRequest)
		return
	}

	p, err := s.store.GetPosition(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, "get position", err)
		return
	}
	writeJSON(w, PositionResponse{Position: p})
}

// GetOpenPositions handles GET /positions/open/{address}.
func (s *Service) GetOpenPositions(w http.ResponseWriter, r *http.Request) {
	owner, err := model.ParseOwner(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "invalid address", http.StatusBadRequest)
		return
	}
	s.openPositions(w, r, owner)
}

// GetHistory handles GET /positions/history/{address}.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := model.ParseOwner(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "invalid address", http.StatusBadRequest)
		return
	}
	s.history(w, r, owner)
}

// GetUnspentNotes handles GET /private/notes/unspent. Notes are keyed by a
// receiver hash only the recipient can derive, so no capability is needed.
func (s *Service) GetUnspentNotes(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get(HeaderReceiverHash)
	if raw == "" {
		writeError(w, "missing "+HeaderReceiverHash+" header", http.StatusBadRequest)
		return
	}
	hash, err := model.ParseHex(raw)
	if err != nil {
		writeError(w, "invalid receiver hash", http.StatusBadRequest)
		return
	}

	notes, err := s.store.GetUnspentNotes(r.Context(), hash)
	if err != nil {
		s.internalError(w, "get unspent notes", err)
		return
	}
	if notes == nil {
		notes = []model.UnspentNote{}
	}
	writeJSON(w, UnspentNotesResponse{UnspentNotes: notes})
}

// Health handles GET /health.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.cursor != nil {
		if v, ok := s.cursor.Cursor(); ok {
			resp.LedgerVersion = &v
		}
	}
	writeJSON(w, resp)
}

// --- Private handlers (owner from capability) ---

// PrivateOpenPositions handles GET /private/positions/open.
func (s *Service) PrivateOpenPositions(w http.ResponseWriter, r *http.Request) {
	s.openPositions(w, r, OwnerFromContext(r.Context()))
}

// PrivateHistory handles GET /private/positions/history.
func (s *Service) PrivateHistory(w http.ResponseWriter, r *http.Request) {
	s.history(w, r, OwnerFromContext(r.Context()))
}

// GetMetadata handles GET /private/metadata.
func (s *Service) GetMetadata(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())
	blob, err := s.store.GetMetadata(r.Context(), owner)
	if err != nil {
		s.internalError(w, "get metadata", err)
		return
	}

	var resp MetadataResponse
	if blob != nil {
		enc := hex.EncodeToString(blob)
		resp.EncryptedMetadata = &enc
	}
	writeJSON(w, resp)
}

// SetMetadata handles POST /private/metadata. The raw body is stored as-is.
func (s *Service) SetMetadata(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	err = s.store.SetMetadata(r.Context(), owner, body)
	if errors.Is(err, store.ErrMetadataTooLarge) {
		writeError(w, "metadata exceeds 4096 bytes", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		s.internalError(w, "set metadata", err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Helpers ---

func (s *Service) openPositions(w http.ResponseWriter, r *http.Request, owner model.OwnerID) {
	positions, err := s.store.GetOpenPositions(r.Context(), owner)
	if err != nil {
		s.internalError(w, "get open positions", err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, OpenPositionsResponse{OpenPositions: positions})
}

func (s *Service) history(w http.ResponseWriter, r *http.Request, owner model.OwnerID) {
	cursor, pageSize, err := parsePage(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, err := s.store.GetHistoricalPositions(r.Context(), owner, cursor, pageSize)
	if err != nil {
		s.internalError(w, "get historical positions", err)
		return
	}
	writeJSON(w, page)
}

// parsePage reads cursor and page_size. A missing or zero page_size means
// the default; larger values are clamped to MaxPageSize.
func parsePage(r *http.Request) (cursor, pageSize int, err error) {
	q := r.URL.Query()
	if v := q.Get("cursor"); v != "" {
		cursor, err = strconv.Atoi(v)
		if err != nil || cursor < 0 {
			return 0, 0, errors.New("invalid cursor")
		}
	}

	pageSize = store.DefaultPageSize
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.New("invalid page_size")
		}
		if n > 0 {
			pageSize = min(n, MaxPageSize)
		}
	}
	return cursor, pageSize, nil
}

func (s *Service) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "err", err)
	writeError(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
