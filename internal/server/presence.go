package server

// PlayerState is a participant's live presentation state. Position and
// display fields are whatever the owning connection last reported; the server
// does not validate or correct them.
// tygo:generate
type PlayerState struct {
	Username  string  `json:"username"`
	Character string  `json:"character"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Score     int     `json:"score"`
	UserID    string  `json:"userId,omitempty"`
}

// RosterEntry pairs a participant's connection id with their state for
// roster and leaderboard broadcasts.
// tygo:generate
type RosterEntry struct {
	ID string `json:"id"`
	PlayerState
}

// The presence table lives inside Session and inherits the registry mutex:
// every method below must be called with the owning registry locked.

// addParticipant seats a connection in the session. Score always starts at
// zero regardless of what the caller sent.
func (s *Session) addParticipant(connID string, info PlayerState) *PlayerState {
	state := info
	state.Score = 0
	s.participants[connID] = &state
	return &state
}

// removeParticipant unseats a connection and returns the removed state so the
// caller can react to it (e.g. clearing the admin role). The second return is
// false if the connection was not seated.
func (s *Session) removeParticipant(connID string) (*PlayerState, bool) {
	state, ok := s.participants[connID]
	if !ok {
		return nil, false
	}
	delete(s.participants, connID)

	if connID == s.adminConnID {
		s.adminToken = nil
		s.adminConnID = ""
	}

	return state, true
}

// updatePosition is deliberately a no-op for unknown connections: movement
// messages race with disconnects, and a stale one is not an error.
func (s *Session) updatePosition(connID string, x, y float64) {
	if state, ok := s.participants[connID]; ok {
		state.X = x
		state.Y = y
	}
}

// updateScore overwrites the participant's score wholesale; the client owns
// the accumulation. Same no-op-on-absence policy as updatePosition.
func (s *Session) updateScore(connID string, score int) {
	if state, ok := s.participants[connID]; ok {
		state.Score = score
	}
}

func (s *Session) participantCount() int {
	return len(s.participants)
}

func (s *Session) hasParticipant(connID string) bool {
	_, ok := s.participants[connID]
	return ok
}

// snapshotRoster copies the current participant table. The copy is what gets
// marshalled after the lock is released, so broadcasts never alias live state.
func (s *Session) snapshotRoster() []RosterEntry {
	roster := make([]RosterEntry, 0, len(s.participants))
	for connID, state := range s.participants {
		roster = append(roster, RosterEntry{ID: connID, PlayerState: *state})
	}
	return roster
}

// snapshotLeaderboard is the roster without connection ids, in the shape the
// results sink expects.
func (s *Session) snapshotLeaderboard() []PlayerState {
	leaderboard := make([]PlayerState, 0, len(s.participants))
	for _, state := range s.participants {
		leaderboard = append(leaderboard, *state)
	}
	return leaderboard
}
