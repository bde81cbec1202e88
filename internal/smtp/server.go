package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-smtp"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Delays between attempts to bring back a listener that failed.
const (
	rebindDelay    = time.Second
	maxRebindDelay = 30 * time.Second
)

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":25").
	ListenAddr string

	// Domain is announced in the greeting and EHLO reply.
	Domain string

	// Handler receives every accepted message.
	Handler Handler

	// MaxMessageBytes rejects larger messages with 552. Zero means no limit.
	MaxMessageBytes int64

	// MaxRecipients bounds RCPT TO per transaction. Zero means no limit.
	MaxRecipients int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Allowlist restricts which clients may open a session. Nil admits all.
	Allowlist *Allowlist
}

// Server accepts SMTP connections and passes each message to its Handler.
type Server struct {
	config      ServerConfig
	ready       atomic.Bool
	rebindDelay time.Duration

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	return &Server{config: cfg, rebindDelay: rebindDelay}
}

// Run serves until ctx is cancelled. A listener that cannot be bound, or
// that stops unexpectedly, is logged and bound again after a capped
// backoff; Ready reports false until it is back. On cancellation in-flight
// sessions get up to 30 seconds to finish.
func (s *Server) Run(ctx context.Context) {
	delay := s.rebindDelay
	for {
		bound, err := s.serve(ctx)
		if ctx.Err() != nil {
			return
		}
		if bound {
			delay = s.rebindDelay
		}

		slog.Error("SMTP listener failed, retrying",
			"addr", s.config.ListenAddr,
			"error", err,
			"retry_in", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = min(delay*2, maxRebindDelay)
	}
}

// serve binds the listener once and serves on it. bound reports whether
// the bind succeeded. The returned error is nil only after ctx is cancelled.
func (s *Server) serve(ctx context.Context) (bound bool, err error) {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return false, fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := s.newServer(ctx)

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"domain", s.config.Domain,
		"max_message_bytes", s.config.MaxMessageBytes,
		"allowed_networks", s.config.Allowlist.String(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.ready.Store(true)
	defer s.ready.Store(false)

	select {
	case err := <-errCh:
		srv.Close()
		s.mu.Lock()
		s.listener = nil
		s.mu.Unlock()
		if err == nil || errors.Is(err, smtp.ErrServerClosed) {
			err = errors.New("listener closed")
		}
		return true, fmt.Errorf("SMTP server stopped: %w", err)
	case <-ctx.Done():
	}

	s.ready.Store(false)
	slog.Info("shutting down SMTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		srv.Close()
	} else {
		slog.Info("all sessions completed")
	}
	<-errCh
	return true, nil
}

func (s *Server) newServer(ctx context.Context) *smtp.Server {
	be := &backend{
		ctx:       context.WithoutCancel(ctx),
		handler:   s.config.Handler,
		allowlist: s.config.Allowlist,
	}

	srv := smtp.NewServer(be)
	srv.Addr = s.config.ListenAddr
	srv.Domain = s.config.Domain
	srv.ReadTimeout = s.config.ReadTimeout
	srv.WriteTimeout = s.config.WriteTimeout
	srv.MaxMessageBytes = s.config.MaxMessageBytes
	srv.MaxRecipients = s.config.MaxRecipients
	srv.ErrorLog = errorLog{}
	return srv
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

// Ready reports whether the server is accepting connections.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// errorLog routes go-smtp's internal errors to slog.
type errorLog struct{}

func (errorLog) Printf(format string, v ...interface{}) {
	slog.Error("smtp server error", "error", fmt.Sprintf(format, v...))
}

func (errorLog) Println(v ...interface{}) {
	slog.Error("smtp server error", "error", fmt.Sprint(v...))
}
