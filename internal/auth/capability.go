// Package auth verifies capability headers on private API requests.
//
// A caller signs a small JSON message with its Ed25519 key and sends it in
// two headers:
//
//	x-message:   {"owner":"0x<pubkey>","action":"GET /private/metadata","timestamp":1700000000,"nonce":"<uuid>"}
//	x-signature: hex(ed25519.Sign(priv, x-message))
//
// The message binds the owner key, the exact method and path, a timestamp
// and a single-use nonce. The verified public key is the owner identity.
package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noxfi/nox-indexer/internal/model"
)

// Header names.
const (
	HeaderSignature = "x-signature"
	HeaderMessage   = "x-message"
)

// DefaultMaxSkew is the accepted distance between the message timestamp and
// the server clock.
const DefaultMaxSkew = 5 * time.Minute

var (
	ErrMissingHeaders   = errors.New("auth: missing x-signature or x-message")
	ErrMalformedMessage = errors.New("auth: malformed capability message")
	ErrBadSignature     = errors.New("auth: invalid signature")
	ErrWrongAction      = errors.New("auth: message not valid for this request")
	ErrStale            = errors.New("auth: message timestamp outside allowed window")
	ErrReplay           = errors.New("auth: nonce already used")
)

// Message is the signed capability document.
type Message struct {
	Owner     string `json:"owner"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// NonceGuard records nonces so each can be used once per owner.
type NonceGuard interface {
	// Claim reports whether nonce was unused for owner and marks it used
	// for ttl.
	Claim(ctx context.Context, owner model.OwnerID, nonce string, ttl time.Duration) (bool, error)
}

// Verifier checks capability headers.
type Verifier struct {
	guard   NonceGuard
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a verifier. maxSkew <= 0 uses DefaultMaxSkew.
func NewVerifier(guard NonceGuard, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{
		guard:   guard,
		maxSkew: maxSkew,
		now:     time.Now,
	}
}

// Action formats the action string a message must carry for a request.
func Action(method, path string) string {
	return method + " " + path
}

// Verify checks a signature/message pair for a request and returns the
// authenticated owner. Errors other than the package sentinels come from the
// nonce guard's backing store.
func (v *Verifier) Verify(ctx context.Context, method, path, signature, message string) (model.OwnerID, error) {
	var owner model.OwnerID
	if signature == "" || message == "" {
		return owner, ErrMissingHeaders
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return owner, ErrBadSignature
	}

	var m Message
	if err := json.Unmarshal([]byte(message), &m); err != nil {
		return owner, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	key, err := model.ParseHex(m.Owner)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return owner, fmt.Errorf("%w: owner must be a 32-byte public key", ErrMalformedMessage)
	}
	if _, err := uuid.Parse(m.Nonce); err != nil {
		return owner, fmt.Errorf("%w: nonce: %v", ErrMalformedMessage, err)
	}

	if !ed25519.Verify(ed25519.PublicKey(key), []byte(message), sig) {
		return owner, ErrBadSignature
	}

	if m.Action != Action(method, path) {
		return owner, ErrWrongAction
	}

	skew := v.now().Sub(time.Unix(m.Timestamp, 0))
	if skew < -v.maxSkew || skew > v.maxSkew {
		return owner, ErrStale
	}

	copy(owner[:], key)

	// A nonce only needs remembering while its timestamp is acceptable.
	fresh, err := v.guard.Claim(ctx, owner, m.Nonce, 2*v.maxSkew)
	if err != nil {
		return model.OwnerID{}, fmt.Errorf("claim nonce: %w", err)
	}
	if !fresh {
		return model.OwnerID{}, ErrReplay
	}
	return owner, nil
}

// Sign builds the headers for a request signed by priv.
func Sign(priv ed25519.PrivateKey, method, path string, at time.Time, nonce string) (signature, message string) {
	pub := priv.Public().(ed25519.PublicKey)
	doc, _ := json.Marshal(Message{
		Owner:     "0x" + hex.EncodeToString(pub),
		Action:    Action(method, path),
		Timestamp: at.Unix(),
		Nonce:     nonce,
	})
	return hex.EncodeToString(ed25519.Sign(priv, doc)), string(doc)
}
