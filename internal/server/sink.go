package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultsSink persists the final leaderboard of a finished quiz. Publish is
// the only call in the coordinator allowed to take real time; it always runs
// with no locks held and a bounded context.
type ResultsSink interface {
	Publish(ctx context.Context, gameID string, leaderboard []PlayerState, credential string) error
}

// sinkTimeout bounds a single Publish attempt. Expiry surfaces as an
// unreachable-sink failure; finalization is never retried automatically.
const sinkTimeout = 10 * time.Second

// tygo:generate
type ResultsPayload struct {
	GameID      string        `json:"gameId"`
	Leaderboard []PlayerState `json:"leaderboard"`
}

// HTTPResultsSink posts the leaderboard to an external results service with
// the finalizing admin's token as a bearer credential.
type HTTPResultsSink struct {
	url    string
	client *http.Client
}

func NewHTTPResultsSink(url string) *HTTPResultsSink {
	return &HTTPResultsSink{
		url:    url,
		client: &http.Client{Timeout: sinkTimeout},
	}
}

func (s *HTTPResultsSink) Publish(ctx context.Context, gameID string, leaderboard []PlayerState, credential string) error {
	body, err := json.Marshal(ResultsPayload{GameID: gameID, Leaderboard: leaderboard})
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("SINK_UNREACHABLE: results sink unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Surface whatever message the sink sent back; a structured body is
		// nice to have, not required.
		var rejection struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &rejection) != nil || rejection.Message == "" {
			rejection.Message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("SINK_REJECTED: results sink rejected request (%d): %s", resp.StatusCode, rejection.Message)
	}

	return nil
}

// PostgresResultsSink writes leaderboards straight to a quiz_results table.
// Selected by setting RESULTS_DB_DSN; only final results ever touch the
// database, live session state stays in memory.
type PostgresResultsSink struct {
	pool *pgxpool.Pool
}

func NewPostgresResultsSink(ctx context.Context, dsn string) (*PostgresResultsSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to results database: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS quiz_results (
			id           BIGSERIAL PRIMARY KEY,
			game_id      TEXT NOT NULL,
			leaderboard  JSONB NOT NULL,
			submitted_by TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to prepare quiz_results table: %w", err)
	}

	return &PostgresResultsSink{pool: pool}, nil
}

func (s *PostgresResultsSink) Publish(ctx context.Context, gameID string, leaderboard []PlayerState, credential string) error {
	board, err := json.Marshal(leaderboard)
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_results (game_id, leaderboard, submitted_by) VALUES ($1, $2, $3)`,
		gameID, board, credential,
	)
	if err != nil {
		return fmt.Errorf("SINK_UNREACHABLE: failed to write results for game %s: %w", gameID, err)
	}

	return nil
}

func (s *PostgresResultsSink) Close() {
	s.pool.Close()
}
