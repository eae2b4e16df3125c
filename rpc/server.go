package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"saleescrow/core/events"
	"saleescrow/native/agreement"
	"saleescrow/native/bank"
	"saleescrow/observability"
	"saleescrow/observability/logging"
	telemetry "saleescrow/observability/otel"
)

const (
	headerRequestID   = "X-Request-ID"
	readHeaderTimeout = 10 * time.Second
)

type requestIDKey struct{}

// Config carries the transport-level settings of the JSON-RPC server.
type Config struct {
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

// Server exposes the agreement registry and the bank ledger over JSON-RPC.
type Server struct {
	registry *agreement.Registry
	bank     bank.Backend
	events   *events.Log
	auth     *authenticator
	limiter  *rateLimiter
	logger   *slog.Logger
	tracer   trace.Tracer
	methods  map[string]handlerFunc
	handler  http.Handler

	serverMu   sync.Mutex
	httpServer *http.Server
	stopped    bool
}

// NewServer wires the router. The registry, bank backend and event log are
// required.
func NewServer(registry *agreement.Registry, bankBackend bank.Backend, log *events.Log, cfg Config) *Server {
	if registry == nil || bankBackend == nil || log == nil {
		panic("rpc: registry, bank backend and event log are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		registry: registry,
		bank:     bankBackend,
		events:   log,
		auth:     newAuthenticator(cfg.Auth),
		limiter:  newRateLimiter(cfg.RateLimit),
		logger:   logger,
		tracer:   telemetry.Tracer(),
	}
	s.methods = map[string]handlerFunc{
		"agreement_create":           s.handleAgreementCreate,
		"agreement_deposit":          s.handleAgreementDeposit,
		"agreement_dispute":          s.handleAgreementDispute,
		"agreement_resolve":          s.handleAgreementResolve,
		"agreement_release":          s.handleAgreementRelease,
		"agreement_get":              s.handleAgreementGet,
		"agreement_count":            s.handleAgreementCount,
		"agreement_arbitrator":       s.handleAgreementArbitrator,
		"agreement_changeArbitrator": s.handleAgreementChangeArbitrator,
		"agreement_audit":            s.handleAgreementAudit,
		"bank_balance":               s.handleBankBalance,
		"token_approve":              s.handleTokenApprove,
		"token_get":                  s.handleTokenGet,
		"events_list":                s.handleEventsList,
	}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	s.handler = otelhttp.NewHandler(r, "escrowd.rpc")
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: readHeaderTimeout}
	s.serverMu.Lock()
	if s.stopped {
		s.serverMu.Unlock()
		return listener.Close()
	}
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("json-rpc server listening", slog.String("addr", listener.Addr().String()))
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server. A Serve call that has not
// started yet returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	s.stopped = true
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.LogAttrs(r.Context(), slog.LevelInfo, "rpc request",
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("source", clientSource(r)),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// handle decodes one JSON-RPC request and routes it to its method handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(clientSource(r)) {
		observability.RPC().RecordThrottle("client")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = "request body too large"
		}
		writeError(w, status, nil, codeInvalidRequest, message, nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to parse request", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid JSON-RPC request", nil)
		return
	}
	fn, ok := s.methods[req.Method]
	if !ok {
		observability.RPC().Observe("unknown", "method_not_found", 0)
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "rpc."+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.method", req.Method),
			attribute.String("rpc.request_id", requestIDFrom(r.Context())),
		))
	defer span.End()

	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	fn(ww, r.WithContext(ctx), req)
	status := ww.Status()
	outcome := "ok"
	if status >= http.StatusBadRequest {
		outcome = "error"
		span.SetStatus(otelcodes.Error, http.StatusText(status))
	}
	span.SetAttributes(attribute.Int("http.status_code", statusOrOK(status)))
	observability.RPC().Observe(req.Method, outcome, time.Since(start))
}

func statusOrOK(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

// requireCaller resolves the authenticated caller or writes the
// unauthorized response.
func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request, req *RPCRequest) ([20]byte, bool) {
	caller, err := s.auth.caller(r)
	if err != nil {
		s.logger.Debug("rpc caller rejected",
			slog.String("request_id", requestIDFrom(r.Context())),
			slog.String("authorization", logging.MaskBearer(r.Header.Get("Authorization"))),
			slog.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", err.Error())
		return [20]byte{}, false
	}
	return caller, true
}
