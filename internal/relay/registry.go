package relay

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/google/uuid"

	"git.uuxo.net/uuxo/file-relay/internal/hue"
)

// ErrServerFull is returned by Connect when the session ceiling is reached.
var ErrServerFull = errors.New("session limit reached")

// Session is the per-connection state handed out at connect time. Fields
// are fixed for the lifetime of the connection.
type Session struct {
	ID           string
	Hue          float64
	IdentityHash string
}

// Registry tracks active sessions and assigns each new one a hue and a
// salted identity hash. The salt is generated once per process, so identity
// hashes are stable across reconnects but reset on restart.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	salt        []byte
}

// NewRegistry creates a registry that refuses connections beyond
// maxSessions. A maxSessions of zero or less means unlimited.
func NewRegistry(maxSessions int) *Registry {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		// crypto/rand failing is unrecoverable.
		panic(err)
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		salt:        salt,
	}
}

// Connect registers a new session for the given remote IP. The session gets
// the hue maximally distant from every active hue and an identity hash
// derived from the salted IP.
func (r *Registry) Connect(remoteIP string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, ErrServerFull
	}

	active := make([]float64, 0, len(r.sessions))
	for _, s := range r.sessions {
		active = append(active, s.Hue)
	}

	s := &Session{
		ID:           uuid.NewString(),
		Hue:          hue.Assign(active),
		IdentityHash: r.identityHash(remoteIP),
	}
	r.sessions[s.ID] = s
	return s, nil
}

// Disconnect removes a session. Unknown ids are ignored.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session for id, if still active.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Identity returns the identity hash this registry would assign to a
// connection from ip. It lets the upload path tag files with the same
// opaque identifier the relay uses, without creating a session.
func (r *Registry) Identity(ip string) string {
	return r.identityHash(ip)
}

// identityHash returns the first 8 hex characters of SHA-256(salt || ip).
// The truncation keeps the identifier opaque while staying short enough
// for client display.
func (r *Registry) identityHash(ip string) string {
	h := sha256.New()
	h.Write(r.salt)
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))[:8]
}
