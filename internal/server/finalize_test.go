package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recordingSink counts publishes and returns a scripted error.
type recordingSink struct {
	calls       atomic.Int64
	failWith    error
	lastGameID  string
	lastBoard   []PlayerState
	lastCredent string
}

func (rs *recordingSink) Publish(ctx context.Context, gameID string, leaderboard []PlayerState, credential string) error {
	rs.calls.Add(1)
	rs.lastGameID = gameID
	rs.lastBoard = leaderboard
	rs.lastCredent = credential
	return rs.failWith
}

func setupQuizWithAdmin(t *testing.T, sink ResultsSink) (*Server, *fakeBus, *Session) {
	t.Helper()
	s, bus := newCoordinator(sink)

	s.handleRequestSession("conn-admin", mustMarshal(RequestSessionPayload{
		GameID:     "quiz42",
		PlayerInfo: PlayerInfo{Username: "Host", Character: "owl", Role: "admin"},
		AdminToken: "secret",
	}))
	s.handleRequestSession("conn-b", mustMarshal(RequestSessionPayload{
		GameID:     "quiz42",
		PlayerInfo: PlayerInfo{Username: "Bob", Character: "fox"},
	}))

	sess := sessionForGame(s, "quiz42")
	if sess == nil {
		t.Fatal("session was not created")
	}
	bus.reset()
	return s, bus, sess
}

// Test: successful finalization persists results, broadcasts once, destroys
// Why: the core happy path of admin_end_quiz
func TestFinalize_Success(t *testing.T) {
	sink := &recordingSink{}
	s, bus, sess := setupQuizWithAdmin(t, sink)

	s.finalizer.Finalize(context.Background(), sess.RoomCode, "secret", "conn-admin")

	assert.Equal(t, int64(1), sink.calls.Load())
	assert.Equal(t, "quiz42", sink.lastGameID)
	assert.Equal(t, "secret", sink.lastCredent)
	assert.Len(t, sink.lastBoard, 2)

	// Exactly one quiz_ended per participant, no further roster updates
	ended := bus.byType("quiz_ended")
	assert.Len(t, ended, 2)
	assert.Empty(t, bus.byType("leaderboard_update"))

	// Session unreachable by either key afterwards
	_, found := s.registry.FindByRoomCode(sess.RoomCode)
	assert.False(t, found)
	assert.Equal(t, 0, s.registry.SessionCount())
}

// Test: a wrong token is rejected before the sink is ever called
// Why: unauthorized finalization must not leak results or mutate state
func TestFinalize_WrongTokenUnauthorized(t *testing.T) {
	sink := &recordingSink{}
	s, bus, sess := setupQuizWithAdmin(t, sink)

	s.finalizer.Finalize(context.Background(), sess.RoomCode, "wrong", "conn-admin")

	assert.Equal(t, int64(0), sink.calls.Load())

	errs := bus.byType("error_ending_quiz")
	assert.Len(t, errs, 1)
	assert.Equal(t, "conn-admin", errs[0].ConnID)
	assert.Equal(t, "UNAUTHORIZED", errs[0].Msg.Payload.(ErrorMessage).Code)

	_, found := s.registry.FindByRoomCode(sess.RoomCode)
	assert.True(t, found, "Session must be untouched")
}

// Test: no admin on the session means nobody can finalize
// Why: the token is cleared when the admin disconnects and there is no
// re-claim, so any token is then "unauthorized"
func TestFinalize_NoAdminMeansNoFinalize(t *testing.T) {
	sink := &recordingSink{}
	s, bus, sess := setupQuizWithAdmin(t, sink)

	// Admin drops; token is cleared but Bob keeps the room alive
	s.connectionManager.RemoveConnection("conn-admin")
	s.handleDisconnect("conn-admin")
	bus.reset()

	s.finalizer.Finalize(context.Background(), sess.RoomCode, "secret", "conn-b")

	assert.Equal(t, int64(0), sink.calls.Load())
	errs := bus.byType("error_ending_quiz")
	assert.Len(t, errs, 1)
	assert.Equal(t, "UNAUTHORIZED", errs[0].Msg.Payload.(ErrorMessage).Code)
}

// Test: unknown room code is unauthorized, not a distinct probe signal
func TestFinalize_UnknownRoomUnauthorized(t *testing.T) {
	sink := &recordingSink{}
	s, bus, _ := setupQuizWithAdmin(t, sink)

	s.finalizer.Finalize(context.Background(), "ZZZZZ9", "secret", "conn-admin")

	assert.Equal(t, int64(0), sink.calls.Load())
	errs := bus.byType("error_ending_quiz")
	assert.Len(t, errs, 1)
}

// Test: a sink failure reaches the caller only and preserves the session
// Why: finalization is retryable; the room stays joinable and playable
func TestFinalize_SinkFailureKeepsSession(t *testing.T) {
	sink := &recordingSink{failWith: assert.AnError}
	s, bus, sess := setupQuizWithAdmin(t, sink)

	s.finalizer.Finalize(context.Background(), sess.RoomCode, "secret", "conn-admin")

	assert.Equal(t, int64(1), sink.calls.Load())

	errs := bus.byType("error_ending_quiz")
	assert.Len(t, errs, 1)
	assert.Equal(t, "conn-admin", errs[0].ConnID)
	assert.Equal(t, "SINK_FAILURE", errs[0].Msg.Payload.(ErrorMessage).Code)

	assert.Empty(t, bus.byType("quiz_ended"))

	_, found := s.registry.FindByRoomCode(sess.RoomCode)
	assert.True(t, found, "Session survives a sink failure")

	// And a retry with a healthy sink succeeds
	sink.failWith = nil
	bus.reset()
	s.finalizer.Finalize(context.Background(), sess.RoomCode, "secret", "conn-admin")
	assert.Len(t, bus.byType("quiz_ended"), 2)
	assert.Equal(t, 0, s.registry.SessionCount())
}

// Test: finalization cancels a pending grace timer
// Why: no dangling timer may reference a destroyed session
func TestFinalize_CancelsPendingEviction(t *testing.T) {
	sink := &recordingSink{}
	s, _, sess := setupQuizWithAdmin(t, sink)
	s.registry.graceWindow = 30 * time.Millisecond

	// Arm the timer directly: the admin-disconnect path would clear the
	// token, but the race being modelled is eviction pending while a valid
	// finalize arrives.
	s.registry.mu.Lock()
	s.registry.armEvictionLocked(sess)
	s.registry.mu.Unlock()

	s.finalizer.Finalize(context.Background(), sess.RoomCode, "secret", "conn-admin")

	assert.Equal(t, 0, s.registry.SessionCount())

	// Recreate the game id; the stale timer must not reap the new session
	fresh, created := s.registry.FindOrCreate("quiz42", nil)
	assert.True(t, created)
	time.Sleep(90 * time.Millisecond)
	found, ok := s.registry.FindByRoomCode(fresh.RoomCode)
	assert.True(t, ok)
	assert.Same(t, fresh, found)
}

// Test: end-to-end through the message handler with a real HTTP sink
// Why: exercises the admin_end_quiz wire shape against an httptest sink
func TestHandleAdminEndQuiz_HTTPSink(t *testing.T) {
	var got ResultsPayload
	var auth string
	sinkServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := jsonDecode(r, &got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer sinkServer.Close()

	s, bus, sess := setupQuizWithAdmin(t, NewHTTPResultsSink(sinkServer.URL))

	s.handleAdminEndQuiz(context.Background(), "conn-admin", mustMarshal(EndQuizPayload{
		RoomCode: sess.RoomCode,
		Token:    "secret",
	}))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "quiz42", got.GameID)
	assert.Len(t, got.Leaderboard, 2)
	assert.Len(t, bus.byType("quiz_ended"), 2)
	assert.Equal(t, 0, s.registry.SessionCount())
}

func jsonDecode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
