package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port       int
	corsOrigin string

	connectionManager *ConnectionManager
	registry          *SessionRegistry
	dispatcher        *Dispatcher
	finalizer         *Finalizer
	sink              ResultsSink
}

// NewServer wires the coordinator from the environment:
//
//	PORT            listen port (default 8080)
//	CORS_ORIGIN     allowed origin for the web client (default *)
//	GRACE_SECONDS   empty-room grace window (default 60)
//	RESULTS_DB_DSN  write leaderboards to Postgres instead of HTTP
//	RESULTS_SINK_URL  HTTP results service endpoint
func NewServer() (*Server, *http.Server) {
	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = 8080
	}

	corsOrigin := os.Getenv("CORS_ORIGIN")
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	registry := NewSessionRegistry()
	if secs, err := strconv.Atoi(os.Getenv("GRACE_SECONDS")); err == nil && secs > 0 {
		registry.graceWindow = time.Duration(secs) * time.Second
	}

	sink := sinkFromEnv()

	connectionManager := NewConnectionManager()
	dispatcher := NewDispatcher(connectionManager)

	srv := &Server{
		port:              port,
		corsOrigin:        corsOrigin,
		connectionManager: connectionManager,
		registry:          registry,
		dispatcher:        dispatcher,
		finalizer:         NewFinalizer(registry, dispatcher, sink),
		sink:              sink,
	}

	// Declare Server config
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.port),
		Handler:      srv.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return srv, httpServer
}

func sinkFromEnv() ResultsSink {
	if dsn := os.Getenv("RESULTS_DB_DSN"); dsn != "" {
		sink, err := NewPostgresResultsSink(context.Background(), dsn)
		if err != nil {
			log.Fatalf("Failed to initialize results database: %v", err)
		}
		log.Println("Results sink: postgres")
		return sink
	}

	url := os.Getenv("RESULTS_SINK_URL")
	if url == "" {
		url = "http://localhost:3000/api/results"
	}
	log.Printf("Results sink: %s", url)
	return NewHTTPResultsSink(url)
}

// Shutdown closes every client connection. Session state is in-memory only,
// so there is nothing else to flush.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("Closing %d connections, dropping %d sessions",
		s.connectionManager.ConnectionCount(), s.registry.SessionCount())
	s.connectionManager.CloseAll()

	if closer, ok := s.sink.(interface{ Close() }); ok {
		closer.Close()
	}
	return nil
}
