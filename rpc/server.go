// Package rpc exposes the custody node over JSON-RPC 2.0.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"trustledger/core"
	"trustledger/observability"
)

const (
	defaultMaxRequestBytes = 1 << 20
	requestIDHeader        = "X-Request-ID"
)

// ServerConfig tunes the JSON-RPC listener.
type ServerConfig struct {
	// AuthToken, when set, is accepted as a bearer token on every method that
	// changes state.
	AuthToken string
	// JWTSecret enables HS256 bearer tokens for state-changing methods. When
	// both are empty mutating methods are unauthenticated.
	JWTSecret          string
	JWTIssuer          string
	JWTLeeway          time.Duration
	RateLimitPerSecond float64
	RateLimitBurst     int
	TrustProxyHeaders  bool
	MaxRequestBytes    int64
	ReadHeaderTimeout  time.Duration
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

type method struct {
	module   string
	mutating bool
	handle   handlerFunc
}

// Server serves JSON-RPC requests against a node.
type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	limiter *clientLimiter
	methods map[string]method
}

// NewServer builds a server for node.
func NewServer(node *core.Node, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	limiter, err := newClientLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, cfg.TrustProxyHeaders)
	if err != nil {
		return nil, err
	}
	s := &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "rpc")),
		limiter: limiter,
	}
	s.methods = map[string]method{
		"chain_head":             {module: "chain", handle: s.handleChainHead},
		"chain_getHeader":        {module: "chain", handle: s.handleChainGetHeader},
		"chain_fingerprintAt":    {module: "chain", handle: s.handleChainFingerprintAt},
		"chain_getBalance":       {module: "chain", handle: s.handleChainGetBalance},
		"chain_getCode":          {module: "chain", handle: s.handleChainGetCode},
		"chain_recentEvents":     {module: "chain", handle: s.handleChainRecentEvents},
		"chain_sendValue":        {module: "chain", mutating: true, handle: s.handleChainSendValue},
		"code_deploy":            {module: "code", mutating: true, handle: s.handleCodeDeploy},
		"wallet_deploy":          {module: "wallet", mutating: true, handle: s.handleWalletDeploy},
		"wallet_info":            {module: "wallet", handle: s.handleWalletInfo},
		"wallet_deposit":         {module: "wallet", mutating: true, handle: s.handleWalletDeposit},
		"wallet_withdrawTo":      {module: "wallet", mutating: true, handle: s.handleWalletWithdrawTo},
		"wallet_getBalance":      {module: "wallet", handle: s.handleWalletGetBalance},
		"wallet_getAddrsLength":  {module: "wallet", handle: s.handleWalletGetAddrsLength},
		"wallet_setMessage":      {module: "wallet", mutating: true, handle: s.handleWalletSetMessage},
		"wallet_getMessage":      {module: "wallet", handle: s.handleWalletGetMessage},
		"wallet_getCode":         {module: "wallet", handle: s.handleWalletGetCode},
		"wallet_getCodeHash":     {module: "wallet", handle: s.handleWalletGetCodeHash},
		"wallet_verifyOracle":    {module: "wallet", handle: s.handleWalletVerifyOracle},
		"escrow_deployChainSend": {module: "escrow", mutating: true, handle: s.handleEscrowDeployChainSend},
		"escrow_getChainSend":    {module: "escrow", handle: s.handleEscrowGetChainSend},
	}
	return s, nil
}

// Handler returns the HTTP handler: JSON-RPC on POST /, Prometheus metrics on
// /metrics and a liveness probe on /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	if s.limiter != nil {
		r.With(s.limiter.middleware).Post("/", s.handle)
	} else {
		r.Post("/", s.handle)
	}
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"head":   s.node.Head().Number.Uint64(),
		})
	})
	return otelhttp.NewHandler(r, "trustledger.rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
		return
	}

	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		observability.ModuleMetrics().Observe(m.module, req.Method, recorder.status, time.Since(start))
	}()
	if m.mutating {
		authed, authErr := s.requireAuth(r)
		if authErr != nil {
			writeError(recorder, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		r = authed
	}
	m.handle(recorder, r, req)
}
