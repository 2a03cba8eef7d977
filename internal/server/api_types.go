package server

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// REQUEST SESSION (request_session)
// ============================================================================
// tygo:generate
type PlayerInfo struct {
	Username  string  `json:"username"`
	Character string  `json:"character"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Role      string  `json:"role,omitempty"`
	UserID    string  `json:"userId,omitempty"`
}

// tygo:generate
type RequestSessionPayload struct {
	GameID     string     `json:"gameId"`
	PlayerInfo PlayerInfo `json:"playerInfo"`
	AdminToken string     `json:"adminToken,omitempty"`
}

// tygo:generate
type SessionCreatedResponse struct {
	RoomCode     string        `json:"roomCode"`
	ConnectionID string        `json:"connectionId"`
	Players      []RosterEntry `json:"players"`
}

// ============================================================================
// MOVEMENT (player_movement -> player_moved)
// ============================================================================
// tygo:generate
type MovementPayload struct {
	RoomCode string  `json:"roomCode"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// tygo:generate
type PlayerMovedNotification struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// ============================================================================
// SCORE (update_score -> leaderboard_update)
// ============================================================================
// tygo:generate
type ScorePayload struct {
	RoomCode string `json:"roomCode"`
	Score    int    `json:"score"`
}

// tygo:generate
type LeaderboardUpdate struct {
	Players []RosterEntry `json:"players"`
}

// ============================================================================
// DISCONNECT (-> player_disconnected)
// ============================================================================
// tygo:generate
type PlayerDisconnectedNotification struct {
	ID string `json:"id"`
}

// ============================================================================
// END QUIZ (admin_end_quiz -> quiz_ended / error_ending_quiz)
// ============================================================================
// tygo:generate
type EndQuizPayload struct {
	RoomCode string `json:"roomCode"`
	Token    string `json:"token"`
}

// tygo:generate
type QuizEndedNotification struct {
	Message string `json:"message"`
}
