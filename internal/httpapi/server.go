// Package httpapi is the thin boundary layer in front of the reasoning
// pipeline and the training corpus accessor.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"

	"github.com/vetralabs/vetra/internal/audit"
	"github.com/vetralabs/vetra/internal/corpus"
	"github.com/vetralabs/vetra/internal/engine"
	"github.com/vetralabs/vetra/internal/language"
	"github.com/vetralabs/vetra/internal/observability"
	"github.com/vetralabs/vetra/internal/pipeline"
	"github.com/vetralabs/vetra/internal/policy"
)

// Responder answers one query; implemented by the pipeline.
type Responder interface {
	Respond(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
}

// Pinger reports backing store reachability for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Per-client request budgets per minute, matching the original service's
// route limits.
const (
	DefaultAskRateLimit   = 60
	DefaultTrainRateLimit = 10
)

type Server struct {
	responder      Responder
	accessor       *corpus.Accessor
	metrics        *observability.Metrics
	audit          *audit.Recorder
	logger         *slog.Logger
	pingers        map[string]Pinger
	upgrader       websocket.Upgrader
	askRateLimit   int
	trainRateLimit int
}

type Options struct {
	Responder      Responder
	Accessor       *corpus.Accessor
	Metrics        *observability.Metrics
	Audit          *audit.Recorder
	Logger         *slog.Logger
	ContextStore   Pinger
	CorpusStore    Pinger
	AllowAnyOrigin bool

	// Requests per client per minute; zero selects the defaults.
	AskRateLimit   int
	TrainRateLimit int
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pingers := make(map[string]Pinger)
	if opts.ContextStore != nil {
		pingers["context_store"] = opts.ContextStore
	}
	if opts.CorpusStore != nil {
		pingers["corpus_store"] = opts.CorpusStore
	}
	askRateLimit := opts.AskRateLimit
	if askRateLimit <= 0 {
		askRateLimit = DefaultAskRateLimit
	}
	trainRateLimit := opts.TrainRateLimit
	if trainRateLimit <= 0 {
		trainRateLimit = DefaultTrainRateLimit
	}
	return &Server{
		responder:      opts.Responder,
		accessor:       opts.Accessor,
		metrics:        opts.Metrics,
		audit:          opts.Audit,
		logger:         logger,
		pingers:        pingers,
		askRateLimit:   askRateLimit,
		trainRateLimit: trainRateLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if opts.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.askRateLimit, time.Minute))
		r.Post("/v1/ask", s.handleAsk)
		r.Get("/v1/ask/ws", s.handleAskWS)
	})
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.trainRateLimit, time.Minute))
		r.Post("/v1/training/examples", s.handleAppendExample)
		r.Get("/v1/training/examples", s.handleListExamples)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.pingers))
	for name, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			checks[name] = "unreachable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	respondJSON(w, status, map[string]any{"checks": checks})
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.responder.Respond(r.Context(), pipeline.Request{
		SessionID: req.SessionID,
		Text:      req.Text,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrInputRejected) {
			s.auditAsk(r.Context(), req, pipeline.Response{}, "rejected")
			respondError(w, http.StatusBadRequest, "input_rejected", err.Error())
			return
		}
		s.logger.Error("ask failed", "error", err)
		s.auditAsk(r.Context(), req, pipeline.Response{}, "error")
		respondError(w, http.StatusInternalServerError, "internal", "unexpected failure")
		return
	}
	s.auditAsk(r.Context(), req, resp, askOutcome(resp))
	respondJSON(w, http.StatusOK, resp)
}

func askOutcome(resp pipeline.Response) string {
	if resp.SafetyApplied && resp.Source == engine.SourceRule {
		return "blocked"
	}
	return "answered"
}

// auditAsk records one ask call. The query is PII-redacted and truncated
// before it lands in the trail.
func (s *Server) auditAsk(ctx context.Context, req askRequest, resp pipeline.Response, outcome string) {
	redacted, _ := policy.RedactPII(req.Text)
	detail := truncateDetail(redacted)
	if resp.FinalText != "" {
		detail += " -> " + truncateDetail(resp.FinalText)
	}
	s.audit.Record(ctx, audit.ActionAsk, req.SessionID, outcome, detail)
}

const maxDetailRunes = 200

func truncateDetail(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDetailRunes {
		return s
	}
	return string(runes[:maxDetailRunes])
}

// handleAskWS serves a persistent chat socket carrying the same ask
// request/response pairs as the JSON endpoint.
func (s *Server) handleAskWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(64 << 10)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		var req askRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		resp, err := s.responder.Respond(r.Context(), pipeline.Request{
			SessionID: req.SessionID,
			Text:      req.Text,
		})
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err != nil {
			msg, code, outcome := "unexpected failure", "internal", "error"
			if errors.Is(err, pipeline.ErrInputRejected) {
				msg, code, outcome = err.Error(), "input_rejected", "rejected"
			}
			s.auditAsk(r.Context(), req, pipeline.Response{}, outcome)
			if werr := conn.WriteJSON(errorResponse{Error: msg, Code: code}); werr != nil {
				return
			}
			continue
		}
		s.auditAsk(r.Context(), req, resp, askOutcome(resp))
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

type appendExampleRequest struct {
	Language    language.Tag  `json:"language"`
	Instruction string        `json:"instruction"`
	Examples    []corpus.Pair `json:"examples"`
}

type appendExampleResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleAppendExample(w http.ResponseWriter, r *http.Request) {
	var req appendExampleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	example, err := s.accessor.Append(r.Context(), bearerToken(r), corpus.Draft{
		Language:    req.Language,
		Instruction: req.Instruction,
		Examples:    req.Examples,
	})
	if err != nil {
		switch {
		case errors.Is(err, corpus.ErrUnauthorized):
			s.countTrainingWrite("unauthorized")
			s.auditTraining(r.Context(), req, "unauthorized")
			respondError(w, http.StatusUnauthorized, "unauthorized", "valid owner capability required")
		case errors.Is(err, corpus.ErrInvalidExample):
			s.countTrainingWrite("invalid")
			s.auditTraining(r.Context(), req, "invalid")
			respondError(w, http.StatusBadRequest, "invalid_example", err.Error())
		default:
			s.countTrainingWrite("error")
			s.auditTraining(r.Context(), req, "error")
			s.logger.Error("training append failed", "error", err)
			respondError(w, http.StatusInternalServerError, "internal", "unexpected failure")
		}
		return
	}

	s.countTrainingWrite("ok")
	s.auditTraining(r.Context(), req, "ok")
	respondJSON(w, http.StatusCreated, appendExampleResponse{ID: example.ID, CreatedAt: example.CreatedAt})
}

func (s *Server) handleListExamples(w http.ResponseWriter, r *http.Request) {
	lang := language.Tag(strings.TrimSpace(r.URL.Query().Get("language")))
	if lang == "" {
		lang = language.English
	}

	var examples []corpus.TrainingExample
	for ex, err := range s.accessor.Examples(r.Context(), lang) {
		if err != nil {
			s.logger.Error("training read failed", "error", err)
			respondError(w, http.StatusInternalServerError, "internal", "unexpected failure")
			return
		}
		examples = append(examples, ex)
	}
	respondJSON(w, http.StatusOK, map[string]any{"examples": examples})
}

func (s *Server) auditTraining(ctx context.Context, req appendExampleRequest, outcome string) {
	detail := string(req.Language) + ": " + truncateDetail(req.Instruction)
	s.audit.Record(ctx, audit.ActionTrainingWrite, "", outcome, detail)
}

func (s *Server) countTrainingWrite(outcome string) {
	if s.metrics != nil {
		s.metrics.TrainingWrites.WithLabelValues(outcome).Inc()
	}
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
