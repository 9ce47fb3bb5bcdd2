// Package server is the TCP socket front door: external processes submit
// publish jobs as line-delimited JSON and receive an ack frame when the job
// is accepted plus a final frame when the publish finishes.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	config "github.com/forumgram/publisher/configs"
	"github.com/forumgram/publisher/internal/service"
	"github.com/forumgram/publisher/internal/transfer"
)

const maxLineBytes = 1024 * 1024

type SocketServer struct {
	cfg  config.Config
	pb   service.PublishService
	pool *WorkerPool

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewSocketServer(cfg config.Config, pb service.PublishService) *SocketServer {
	return &SocketServer{
		cfg:   cfg,
		pb:    pb,
		pool:  NewWorkerPool(cfg.WorkerPoolSize),
		conns: make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address and serves until Shutdown.
func (s *SocketServer) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SocketHost, s.cfg.SocketPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *SocketServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("socket server listening", "addr", ln.Addr().String(), "workers", s.pool.Size())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Info(err.Error())
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting, closes open connections and waits for in-flight
// jobs. Clients that lose the final frame reconcile through the item status
// queries.
func (s *SocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SocketServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	defer conn.Close()

	// One writer per connection; the reader loop and the workers both
	// produce frames, and interleaved writes would corrupt the stream.
	out := make(chan *transfer.PublishResponse, 16)
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		enc := json.NewEncoder(conn)
		broken := false
		for resp := range out {
			if broken {
				continue
			}
			if err := enc.Encode(resp); err != nil {
				slog.Info(err.Error())
				broken = true
			}
		}
	}()
	defer writerWG.Wait()

	// Jobs still running when the reader stops must finish their final
	// frame sends before the writer channel closes.
	var jobs sync.WaitGroup
	defer close(out)
	defer jobs.Wait()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req transfer.PublishRequest
		if err := json.Unmarshal(line, &req); err != nil {
			slog.Info("malformed socket request", "error", err.Error())
			out <- &transfer.PublishResponse{Success: false, Message: "request is not a json object", Error: "invalid request"}
			continue
		}

		release, ok := s.pool.Reserve()
		if !ok {
			out <- &transfer.PublishResponse{RequestID: req.RequestID, Success: false, Message: "all workers are busy, retry later", Error: "server busy"}
			continue
		}

		// Ack before the worker starts so the ack always precedes the
		// final frame.
		out <- &transfer.PublishResponse{RequestID: req.RequestID, Success: true, Message: "accepted"}

		jobs.Add(1)
		go func(req transfer.PublishRequest) {
			defer jobs.Done()
			defer release()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("socket job panicked", "request_id", req.RequestID, "panic", fmt.Sprint(r))
				}
			}()
			out <- s.runJob(&req)
		}(req)
	}

	if err := scanner.Err(); err != nil {
		slog.Info("socket read failed", "error", err.Error())
	}
}

func (s *SocketServer) runJob(req *transfer.PublishRequest) *transfer.PublishResponse {
	result, err := s.pb.PublishDirect(context.Background(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountBusy):
			return &transfer.PublishResponse{RequestID: req.RequestID, Success: false, Message: err.Error(), Error: "account_busy"}
		case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrCarouselSize):
			return &transfer.PublishResponse{RequestID: req.RequestID, Success: false, Message: err.Error(), Error: "invalid request"}
		}
		slog.Info("socket publish failed", "request_id", req.RequestID, "error", err.Error())
		return &transfer.PublishResponse{RequestID: req.RequestID, Success: false, Message: err.Error(), Error: "publish failed"}
	}

	if !result.Success {
		return &transfer.PublishResponse{
			RequestID: req.RequestID,
			Success:   false,
			Message:   result.Message,
			Error:     string(result.ErrorKind),
		}
	}

	return &transfer.PublishResponse{
		RequestID: req.RequestID,
		Success:   true,
		Message:   "published",
		Data: &transfer.ResponseData{
			PostID:  result.MediaID,
			PostURL: result.Permalink,
			MediaID: result.MediaID,
		},
	}
}
