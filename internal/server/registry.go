package server

import (
	"fmt"
	"sync"
	"time"
)

// DefaultGraceWindow is how long an empty session survives before it is
// reaped. Long enough to ride out a page reload or a flaky mobile connection,
// short enough that abandoned rooms don't pile up.
const DefaultGraceWindow = 60 * time.Second

// Session is one running quiz instance. All fields besides the two immutable
// identifiers are guarded by the owning registry's mutex.
type Session struct {
	GameID   string
	RoomCode string

	participants map[string]*PlayerState // connectionID -> state

	// adminToken is nil when nobody holds the admin role: either the creator
	// never claimed it, or the admin disconnected. There is no re-claim; the
	// session just stays unfinalizable until it is reaped.
	adminToken  *string
	adminConnID string

	eviction    *time.Timer
	evictionGen uint64
}

// AdminClaim carries the credential a creating connection declares when it
// asks for the admin role.
type AdminClaim struct {
	Token  string
	ConnID string
}

// SessionRegistry owns every active session, indexed by logical game id and by
// room code. The two indexes are always mutated together under mu; a
// disagreement between them is a programming fault, not a runtime condition.
type SessionRegistry struct {
	mu          sync.Mutex
	byGame      map[string]*Session
	byCode      map[string]*Session
	graceWindow time.Duration
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byGame:      make(map[string]*Session),
		byCode:      make(map[string]*Session),
		graceWindow: DefaultGraceWindow,
	}
}

// FindOrCreate returns the session for gameID, creating it (with a fresh room
// code) if none exists. A pending eviction on an existing session is cancelled
// here so that a rejoin during the grace window keeps the room alive. The
// claim only binds on creation; an existing session never changes admins.
func (r *SessionRegistry) FindOrCreate(gameID string, claim *AdminClaim) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findOrCreateLocked(gameID, claim)
}

func (r *SessionRegistry) findOrCreateLocked(gameID string, claim *AdminClaim) (*Session, bool) {
	if sess, exists := r.byGame[gameID]; exists {
		r.cancelEvictionLocked(sess)
		return sess, false
	}

	// The collision check and both index inserts happen under the same lock,
	// so a code can never be handed out twice in the same instant.
	usedCodes := make(map[string]bool, len(r.byCode))
	for code := range r.byCode {
		usedCodes[code] = true
	}
	roomCode := GenerateRoomCode(usedCodes)

	sess := &Session{
		GameID:       gameID,
		RoomCode:     roomCode,
		participants: make(map[string]*PlayerState),
	}
	if claim != nil {
		token := claim.Token
		sess.adminToken = &token
		sess.adminConnID = claim.ConnID
	}

	r.byGame[gameID] = sess
	r.byCode[roomCode] = sess

	return sess, true
}

// FindByRoomCode looks a session up by its shareable code. Absence is a
// normal outcome (mistyped or expired code), not an error.
func (r *SessionRegistry) FindByRoomCode(roomCode string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByCodeLocked(roomCode)
}

func (r *SessionRegistry) findByCodeLocked(roomCode string) (*Session, bool) {
	sess, exists := r.byCode[NormalizeRoomCode(roomCode)]
	return sess, exists
}

// findByConnLocked scans for the session holding a connection. A connection
// is never seated in two sessions at once, so the scan stops at the first hit.
func (r *SessionRegistry) findByConnLocked(connID string) (*Session, bool) {
	for _, sess := range r.byGame {
		if _, ok := sess.participants[connID]; ok {
			return sess, true
		}
	}
	return nil, false
}

// Destroy removes the session for gameID from both indexes and stops any
// pending eviction timer. Destroying an absent gameID is a no-op; this is
// what makes the eviction-vs-finalize race safe.
func (r *SessionRegistry) Destroy(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked(gameID)
}

func (r *SessionRegistry) destroyLocked(gameID string) {
	sess, exists := r.byGame[gameID]
	if !exists {
		return
	}

	if other := r.byCode[sess.RoomCode]; other != sess {
		panic(fmt.Sprintf("session registry indexes disagree for game %q / room %q", gameID, sess.RoomCode))
	}

	r.cancelEvictionLocked(sess)
	delete(r.byGame, gameID)
	delete(r.byCode, sess.RoomCode)
}

// SessionCount reports the number of active sessions. Used by /health.
func (r *SessionRegistry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byGame)
}
