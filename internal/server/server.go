// Package server serves the three static routes of threadpool-server,
// every accepted connection is handled by one worker of a threadpool.Pool.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/netutil"

	"github.com/damnever/threadpool"
)

const (
	statusOK       = "HTTP/1.1 200 OK"
	statusNotFound = "HTTP/1.1 404 NOT FOUND"
)

// Submitter is implemented by *threadpool.Pool.
type Submitter interface {
	Submit(fn threadpool.Func) error
}

// Options configurates the Server.
type Options struct {
	// Root is the directory containing hello.html and 404.html.
	Root string
	// SleepDelay is how long the /sleep route stalls before responding.
	SleepDelay time.Duration
	// MaxConnections limits the number of open connections, 0 means no limit.
	MaxConnections int
	// ReadTimeout bounds the wait for the request line, 0 means no limit.
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// Server accepts connections and hands each of them over to the pool.
type Server struct {
	pool        Submitter
	root        string
	sleepDelay  time.Duration
	maxConns    int
	readTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Server.
func New(pool Submitter, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		pool:        pool,
		root:        opts.Root,
		sleepDelay:  opts.SleepDelay,
		maxConns:    opts.MaxConnections,
		readTimeout: opts.ReadTimeout,
		logger:      logger,
	}
}

// Serve accepts connections from l until ctx is done, l is closed on return.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if s.maxConns > 0 {
		l = netutil.LimitListener(l, s.maxConns)
	}

	stopc := make(chan struct{})
	defer close(stopc)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopc:
		}
		l.Close()
	}()

	s.logger.Info("serving", "addr", l.Addr().String())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if err := s.pool.Submit(func() { s.HandleConn(conn) }); err != nil {
			conn.Close()
			if errors.Is(err, threadpool.ErrPoolClosed) {
				return err
			}
			s.logger.Warn("failed to submit connection", "remote", conn.RemoteAddr().String(), "err", err)
		}
	}
}

// HandleConn reads a single request line, writes the routed response and
// closes conn. Failures stay local to the connection.
// A client which does not send the request line within ReadTimeout is dropped,
// so that it can not hold a worker forever.
func (s *Server) HandleConn(conn net.Conn) {
	defer conn.Close()

	if s.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.logger.Debug("failed to set read deadline", "remote", conn.RemoteAddr().String(), "err", err)
			return
		}
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		s.logger.Debug("failed to read request line", "remote", conn.RemoteAddr().String(), "err", err)
		return
	}
	line = strings.TrimRight(line, "\r\n")

	status, filename := s.route(line)
	contents, err := os.ReadFile(filepath.Join(s.root, filename))
	if err != nil {
		s.logger.Error("failed to read file", "file", filename, "err", err)
		return
	}

	if _, err := io.WriteString(conn, Response(status, contents)); err != nil {
		s.logger.Debug("failed to write response", "remote", conn.RemoteAddr().String(), "err", err)
		return
	}
	s.logger.Debug("served", "request", line, "status", status)
}

func (s *Server) route(requestLine string) (status, filename string) {
	switch requestLine {
	case "GET / HTTP/1.1":
		return statusOK, "hello.html"
	case "GET /sleep HTTP/1.1":
		time.Sleep(s.sleepDelay)
		return statusOK, "hello.html"
	default:
		return statusNotFound, "404.html"
	}
}

// Response formats a minimal response with a Content-Length header.
func Response(status string, body []byte) string {
	return fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n%s", status, len(body), body)
}
