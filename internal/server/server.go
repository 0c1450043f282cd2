package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jzx17/gopool/pkg/types"
)

// ServerConfig configures the accept loop
type ServerConfig struct {
	// Address to listen on, host:port; port 0 picks a free port
	Address string

	// AcceptBackoffInitial and AcceptBackoffMax bound the wait between failed accepts
	AcceptBackoffInitial time.Duration
	AcceptBackoffMax     time.Duration

	// Recorder receives connection events (optional)
	Recorder Recorder
}

// DefaultServerConfig returns default configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:              "127.0.0.1:7878",
		AcceptBackoffInitial: 5 * time.Millisecond,
		AcceptBackoffMax:     time.Second,
	}
}

// Server accepts TCP connections and submits each one to a worker pool
type Server struct {
	config   *ServerConfig
	listener net.Listener
	pool     types.WorkerPool
	handler  *ConnectionHandler
	recorder Recorder

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	log *zap.SugaredLogger
}

// NewServer binds the listener. Connections are not accepted until Serve is called.
func NewServer(config *ServerConfig, pool types.WorkerPool, handler *ConnectionHandler) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if pool == nil {
		return nil, errors.New("server requires a worker pool")
	}
	if handler == nil {
		return nil, errors.New("server requires a connection handler")
	}
	if config.AcceptBackoffInitial <= 0 {
		config.AcceptBackoffInitial = 5 * time.Millisecond
	}
	if config.AcceptBackoffMax <= 0 {
		config.AcceptBackoffMax = time.Second
	}

	recorder := config.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	ln, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
	}

	return &Server{
		config:   config,
		listener: ln,
		pool:     pool,
		handler:  handler,
		recorder: recorder,
		log:      zap.S().Named("server"),
	}, nil
}

// Addr returns the bound listener address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done or Close is called, then returns nil.
// It returns types.ErrPoolClosed if the pool stops accepting work first.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	defer stop()

	s.log.Infow("server listening", "address", s.Addr().String())

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.log.Info("server stopped accepting connections")
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		job := &connJob{id: uuid.NewString(), conn: conn, handler: s.handler}
		s.recorder.ConnectionAccepted()

		if err := s.pool.Submit(job); err != nil {
			_ = conn.Close()
			if errors.Is(err, types.ErrPoolClosed) {
				s.log.Warnw("worker pool closed, stopping accept loop", "conn_id", job.id)
				return err
			}
			s.log.Errorw("failed to submit connection", "conn_id", job.id, "error", err)
			continue
		}
		s.log.Debugw("connection submitted", "conn_id", job.id, "remote", conn.RemoteAddr().String())
	}
}

// accept retries transient accept failures with exponential backoff
func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.AcceptBackoffInitial
	b.MaxInterval = s.config.AcceptBackoffMax

	return backoff.Retry(ctx, func() (net.Conn, error) {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.closing.Load() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.log.Warnw("accept failed, retrying", "error", err, "backoff", d)
		}),
	)
}

// Close stops accepting connections. Connections already submitted keep running.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// connJob hands one accepted connection to the ConnectionHandler
type connJob struct {
	id      string
	conn    net.Conn
	handler *ConnectionHandler
}

func (j *connJob) ID() string { return j.id }

func (j *connJob) Execute(ctx context.Context) error {
	return j.handler.Handle(ctx, j.id, j.conn)
}

var _ types.Job = (*connJob)(nil)
