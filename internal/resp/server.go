package resp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/redcon"

	"exstrkv/internal/exstring"
	"exstrkv/internal/logging"
)

const defaultIdleTimeout = 5 * time.Minute

// Executor runs one command. *exstring.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, args []string) (exstring.Reply, error)
}

type Config struct {
	// IdleTimeout closes connections that send nothing for this long.
	IdleTimeout time.Duration
	Logger      *logging.Logger
}

// Server accepts RESP connections and runs each request through the
// executor. Requests on one connection are answered in order; connections
// are served concurrently.
type Server struct {
	exec Executor
	cfg  Config
	log  *logging.Logger

	mu     sync.Mutex
	srv    *redcon.Server
	ln     net.Listener
	closed bool
	conns  sync.WaitGroup
}

var ErrServerClosed = errors.New("resp: server closed")

func NewServer(exec Executor, cfg Config) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("resp")
	}
	return &Server{exec: exec, cfg: cfg, log: logger}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It always returns a
// non-nil error; after Shutdown the error is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	srv := redcon.NewServer(ln.Addr().String(), s.handle, s.accept, s.disconnected)
	srv.SetIdleClose(s.cfg.IdleTimeout)
	// A Shutdown that lands before redcon has taken the listener closes it
	// directly; the next failed Accept finishes the job.
	srv.AcceptError = func(err error) {
		if s.isClosed() {
			_ = srv.Close()
			return
		}
		s.log.Warn("accept failed", slog.String("error", err.Error()))
	}
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	s.log.Info("resp server listening", slog.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)
	if s.isClosed() {
		return ErrServerClosed
	}
	if err == nil {
		err = ErrServerClosed
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) accept(conn redcon.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns.Add(1)
	return true
}

func (s *Server) disconnected(conn redcon.Conn, err error) {
	if err != nil && !s.isClosed() {
		s.log.Debug("connection closed", slog.String("remote", conn.RemoteAddr()), slog.String("error", err.Error()))
	}
	s.conns.Done()
}

// Shutdown stops accepting, closes every connection and waits for their
// goroutines, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv, ln := s.srv, s.ln
	s.mu.Unlock()

	if srv != nil && srv.Close() != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		return
	}
	args := make([]string, len(cmd.Args))
	for i, arg := range cmd.Args {
		args[i] = string(arg)
	}

	if strings.EqualFold(args[0], "QUIT") {
		conn.WriteString("OK")
		conn.Close()
		return
	}

	reply, err := s.exec.Execute(context.Background(), args)
	if err != nil {
		conn.WriteError(ErrorText(err))
		return
	}
	WriteReply(conn, reply)
}
