package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"anonrelay/internal/errors"
	"anonrelay/internal/models"
	"anonrelay/internal/tracing"
	"anonrelay/pkg/transport"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// EventHandler routes decoded webhook events into the relay engine.
type EventHandler interface {
	HandleMessage(ctx context.Context, ev transport.MessageEvent) error
	HandleCallback(ctx context.Context, ev transport.CallbackEvent) error
	HandleReaction(ctx context.Context, ev transport.ReactionEvent) error
	HandlePollAnswer(ctx context.Context, ev transport.PollAnswerEvent) error
}

type Server struct {
	router        *mux.Router
	logger        *logrus.Logger
	engine        EventHandler
	server        *http.Server
	webhookSecret string
}

func NewServer(cfg *models.Config, engine EventHandler, logger *logrus.Logger) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		logger:        logger,
		engine:        engine,
		webhookSecret: cfg.Gateway.WebhookSecret,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/webhook").Subrouter()
	webhook.Use(s.authMiddleware)
	webhook.HandleFunc("/message", handleEvent(s, s.engine.HandleMessage)).Methods(http.MethodPost)
	webhook.HandleFunc("/callback", handleEvent(s, s.engine.HandleCallback)).Methods(http.MethodPost)
	webhook.HandleFunc("/reaction", handleEvent(s, s.engine.HandleReaction)).Methods(http.MethodPost)
	webhook.HandleFunc("/poll-answer", handleEvent(s, s.engine.HandlePollAnswer)).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting webhook server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.webhookSecret != "" {
			got := r.Header.Get("X-Webhook-Secret")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookSecret)) != 1 {
				s.logger.Warn("Webhook request with bad secret")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// handleEvent decodes one webhook payload and hands it to the engine under a
// traced, request-scoped context.
func handleEvent[E transport.MessageEvent | transport.CallbackEvent | transport.ReactionEvent | transport.PollAnswerEvent](
	s *Server, handle func(context.Context, E) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev E
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		ctx := tracing.WithRequestID(r.Context(), tracing.GenerateRequestID())
		ctx = tracing.WithStartTime(ctx, time.Now())
		ctx, span := tracing.WithOtelTracing(ctx, r.URL.Path)
		defer span.End()

		if err := handle(ctx, ev); err != nil {
			tracing.RecordError(ctx, err)
			s.logger.WithError(err).WithFields(logrus.Fields{
				"path":       r.URL.Path,
				"request_id": tracing.GetRequestID(ctx),
			}).Error("Event handling failed")

			w.WriteHeader(errors.HTTPStatusCode(err))
			_ = json.NewEncoder(w).Encode(map[string]string{"error": string(errors.GetCode(err))})
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
