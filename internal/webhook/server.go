package webhook

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/shineum/mail-relay-webhook/internal/history"
	"github.com/shineum/mail-relay-webhook/internal/relay"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// TokenHeader carries the shared webhook token.
const TokenHeader = "X-Webhook-Token"

// RequestIDHeader carries the per-request id on responses.
const RequestIDHeader = "X-Request-ID"

// Processor runs one raw message through the relay pipeline.
type Processor interface {
	Process(ctx context.Context, requestID string, raw []byte) (*relay.Outcome, error)
}

// HistoryReader lists recent relay records for the status endpoint.
type HistoryReader interface {
	Recent(ctx context.Context, n int) ([]history.Record, error)
}

// ServerConfig holds the configuration for the webhook server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// Path is the route that accepts inbound messages.
	Path string

	// MaxBodySize bounds the request body in bytes.
	MaxBodySize int64

	// TokenHash is the bcrypt hash of the shared token. Empty disables
	// token checks.
	TokenHash string

	// AllowOrigins enables CORS for the listed origins.
	AllowOrigins []string

	// TLSConfig switches the listener to HTTPS when non-nil.
	TLSConfig *tls.Config

	// Reported by the health, status and root endpoints.
	Domain        string
	EmailList     string
	TempDir       string
	LogDir        string
	TransportName string

	// History is optional.
	History HistoryReader
}

// Server is the HTTP ingestion endpoint.
type Server struct {
	config    ServerConfig
	processor Processor
	auth      *TokenAuthenticator
	engine    *gin.Engine
	started   time.Time

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server that hands every accepted message to processor.
func New(cfg ServerConfig, processor Processor) *Server {
	if cfg.Path == "" {
		cfg.Path = "/webhook/email"
	}

	s := &Server{
		config:    cfg,
		processor: processor,
		auth:      NewTokenAuthenticator(cfg.TokenHash),
		started:   time.Now(),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestContext())

	if len(s.config.AllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = s.config.AllowOrigins
		corsConfig.AddAllowHeaders(TokenHeader)
		corsConfig.AddExposeHeaders(RequestIDHeader)
		router.Use(cors.New(corsConfig))
	}

	router.POST(s.config.Path, s.requireToken(), s.handleWebhook)
	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/", s.handleRoot)
	return router
}

// Handler returns the HTTP handler, used for testing.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe starts the server and blocks until the context is
// cancelled. On cancellation it stops accepting new requests and waits up
// to 30 seconds for in-flight requests to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.config.TLSConfig,
	}

	slog.Info("webhook server listening",
		"addr", ln.Addr().String(),
		"path", s.config.Path,
		"transport", s.config.TransportName,
		"token_required", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if s.config.TLSConfig != nil {
			errCh <- srv.ServeTLS(ln, "", "")
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		srv.Close()
		return nil
	}
	slog.Info("all requests completed")
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
