package server

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/petrzlen/voice-qa/internal/config"
	"github.com/petrzlen/voice-qa/internal/networking"
	"github.com/petrzlen/voice-qa/pkg/remote"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Server struct {
	cfg      config.Config
	fs       afero.Fs
	sessions *sessionStore
	page     *template.Template
	router   chi.Router
}

// New wires the UI routes. factory builds the hosted backend once a session supplied its API key.
func New(cfg config.Config, fs afero.Fs, factory remote.BackendFactory) *Server {
	s := &Server{
		cfg:      cfg,
		fs:       fs,
		sessions: newSessionStore(factory, fs, cfg.OutputDir, cfg.AnswerFile, cfg.SessionIdleTimeout),
		page:     template.Must(template.ParseFS(templatesFS, "templates/index.html")),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
		}),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/", s.handleIndex)
	r.Post("/api-key", s.handleAPIKey)
	r.Post("/upload", s.handleUpload)
	r.Get("/upload/preview", s.handlePreview)
	r.Get("/answer", s.handleAnswer)
	r.Get("/ws", networking.NewWebsocketHandlerFunc(s.sessions.websocketFactory))

	askLimit := s.cfg.AskRateLimit
	if askLimit <= 0 {
		askLimit = 20
	}
	r.With(httprate.LimitByIP(askLimit, time.Minute)).Post("/ask", s.handleAsk)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sessions.runSweeper(ctx, s.sessions.idleTimeout/2)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", s.cfg.HTTPAddr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
