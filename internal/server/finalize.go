package server

import (
	"context"
	"log"
)

// Finalizer executes the one admin-only operation: persist the final
// leaderboard and permanently end the session.
type Finalizer struct {
	registry   *SessionRegistry
	dispatcher *Dispatcher
	sink       ResultsSink
}

func NewFinalizer(registry *SessionRegistry, dispatcher *Dispatcher, sink ResultsSink) *Finalizer {
	return &Finalizer{
		registry:   registry,
		dispatcher: dispatcher,
		sink:       sink,
	}
}

// Finalize authorizes callerToken against the session's admin token, pushes
// the leaderboard to the results sink, and on success broadcasts quiz_ended
// and destroys the session. Failures are reported to the caller only and
// leave the session exactly as it was, so a later finalize can retry.
//
// The sink call is the only part that can block, and it runs on a snapshot
// with the registry unlocked; movement and joins in other rooms (and this
// one) proceed while the sink round-trip is in flight.
func (f *Finalizer) Finalize(ctx context.Context, roomCode, callerToken, callerConnID string) {
	r := f.registry

	r.mu.Lock()
	sess, exists := r.findByCodeLocked(roomCode)
	if !exists || sess.adminToken == nil || *sess.adminToken != callerToken {
		r.mu.Unlock()
		f.dispatcher.ToParticipant(callerConnID, "error_ending_quiz", ErrorMessage{
			Code:    "UNAUTHORIZED",
			Message: "Not authorized to end this quiz",
		})
		return
	}

	gameID := sess.GameID
	leaderboard := sess.snapshotLeaderboard()
	r.mu.Unlock()

	if err := f.sink.Publish(ctx, gameID, leaderboard, callerToken); err != nil {
		log.Printf("Results sink failed for game %s: %v", gameID, err)
		f.dispatcher.ToParticipant(callerConnID, "error_ending_quiz", ErrorMessage{
			Code:    "SINK_FAILURE",
			Message: err.Error(),
		})
		return
	}

	r.mu.Lock()
	// Re-resolve after the unlocked sink call. If the session was reaped in
	// the meantime the results are already persisted and there is nobody
	// left to notify; destroyLocked below is a no-op either way.
	if current, ok := r.findByCodeLocked(roomCode); ok && current == sess {
		f.dispatcher.ToRoom(sess, "quiz_ended", QuizEndedNotification{
			Message: "The quiz has ended. Thanks for playing!",
		})
		r.destroyLocked(gameID)
	}
	r.mu.Unlock()

	log.Printf("Finalized game %s (room %s): %d results persisted", gameID, roomCode, len(leaderboard))
}
