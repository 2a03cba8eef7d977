package server

import (
	"log"
	"time"
)

// Eviction is a two-state machine per session: active (no timer) and grace
// (timer armed). The transitions are
//
//	active -> grace      last participant leaves
//	grace  -> active     any join cancels the timer
//	grace  -> destroyed  timer fires with the room still empty
//
// plus an out-of-band active/grace -> destroyed when the finalizer tears the
// session down, which goes through destroyLocked and therefore also cancels
// the timer.

// armEvictionLocked starts the grace timer for an empty session. Caller holds
// the registry mutex and has just drained the last participant.
func (r *SessionRegistry) armEvictionLocked(sess *Session) {
	r.cancelEvictionLocked(sess)

	sess.evictionGen++
	gen := sess.evictionGen
	gameID := sess.GameID

	sess.eviction = time.AfterFunc(r.graceWindow, func() {
		r.evict(gameID, gen)
	})
}

// cancelEvictionLocked stops a pending timer if there is one. Safe to call in
// any state, any number of times; bumping the generation also neutralizes a
// timer that already fired and is waiting on the mutex.
func (r *SessionRegistry) cancelEvictionLocked(sess *Session) {
	if sess.eviction != nil {
		sess.eviction.Stop()
		sess.eviction = nil
	}
	sess.evictionGen++
}

// evict runs on the timer goroutine when a grace window elapses. The
// generation check makes firing exactly-once: a join that raced the timer has
// already bumped the generation, and Destroy being idempotent backstops the
// finalizer racing us.
func (r *SessionRegistry) evict(gameID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.byGame[gameID]
	if !exists {
		return
	}
	if sess.evictionGen != gen {
		return
	}
	if sess.participantCount() > 0 {
		return
	}

	log.Printf("Reaping empty session: game %s, room %s", gameID, sess.RoomCode)
	r.destroyLocked(gameID)
}

// evictionPending reports whether the session is in its grace window.
func (s *Session) evictionPending() bool {
	return s.eviction != nil
}
