package signing

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/data"
)

// Service is the host-side signing endpoint: a Unix socket accepting
// newline-framed JSON requests from scripts inside SDK containers. It
// lives for the duration of one build.
type Service struct {
	SocketPath string
	Handler    *Handler

	logger hclog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewService(socketPath string, handler *Handler, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.L()
	}

	return &Service{SocketPath: socketPath, Handler: handler, logger: logger}
}

// Start binds the socket and begins serving in the background. The
// socket is world-writable so container users can reach it.
func (s *Service) Start(ctx context.Context) error {
	os.Remove(s.SocketPath)

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return errors.Wrapf(err, "binding signing socket %s", s.SocketPath)
	}

	if err := os.Chmod(s.SocketPath, 0666); err != nil {
		ln.Close()
		return errors.WithStack(err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Debug("signing service listening", "socket", s.SocketPath)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			s.wg.Add(1)

			go func() {
				defer s.wg.Done()
				defer conn.Close()

				s.serve(ctx, conn)
			}()
		}
	}()

	context.AfterFunc(ctx, func() { s.Close() })

	return nil
}

// Close stops accepting requests and removes the socket. In-flight
// requests are allowed to complete.
func (s *Service) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	s.wg.Wait()
	os.Remove(s.SocketPath)

	return nil
}

func (s *Service) serve(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp data.SignResponse

		var req data.SignRequest
		if err := json.Unmarshal(line, &req); err != nil {
			msg := "protocol error: malformed request JSON"
			resp = data.SignResponse{Type: data.SignResponseType, Success: false, Error: &msg}
		} else {
			resp = s.Handler.Handle(ctx, req)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("cannot encode sign response", "error", err)
			return
		}

		if _, err := conn.Write(append(out, '\n')); err != nil {
			s.logger.Error("cannot write sign response", "error", err)
			return
		}
	}
}
