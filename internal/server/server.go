package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prodapi/userserver/config"
	"github.com/prodapi/userserver/internal/audit"
	"github.com/prodapi/userserver/internal/auth"
	"github.com/prodapi/userserver/internal/db"
	"github.com/prodapi/userserver/internal/handlers"
	"github.com/prodapi/userserver/internal/services"
	"github.com/prodapi/userserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	recorder   *audit.Recorder
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	userService := services.NewUserService(userRepo)

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}
	verifier := auth.NewVerifier(jwtSecret)

	recorder, err := newRecorder(ctx, cfg.Audit)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	authMiddleware := handlers.Authenticate(verifier)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, recorder, authMiddleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		recorder:   recorder,
	}, nil
}

func newRecorder(ctx context.Context, cfg config.AuditConfig) (*audit.Recorder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "":
		return audit.NewRecorder(nil, cfg.Channel), nil
	case "rabbitmq":
		backend, err := audit.NewRabbitMQBackend(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("init rabbitmq audit backend: %w", err)
		}
		return audit.NewRecorder(backend, cfg.Channel), nil
	case "pubsub":
		backend, err := audit.NewPubSubBackend(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("init pubsub audit backend: %w", err)
		}
		return audit.NewRecorder(backend, cfg.Channel), nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.recorder != nil {
		_ = s.recorder.Close()
	}
	return s.httpServer.Close()
}
