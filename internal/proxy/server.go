package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/termshare/termshare/internal/metrics"
	"github.com/termshare/termshare/pkg/types"
)

// ErrUnknownMethod is the dispatch miss; it fails the individual request,
// never the connection.
var ErrUnknownMethod = errors.New("unknown method")

// maxLineBytes bounds one request line. Large pastes go through "type"
// params, so 4 MiB leaves ample headroom.
const maxLineBytes = 4 << 20

// Backend is the session command surface the proxy dispatches onto. The
// session manager implements it; tests substitute a fake.
type Backend interface {
	TypeText(ctx context.Context, text string) error
	SendKey(ctx context.Context, key string) error
	Content(ctx context.Context, visibleOnly bool) (string, error)
	Screenshot(ctx context.Context) (types.ScreenshotResult, error)
	Clear(ctx context.Context) error
	Resize(ctx context.Context, cols, rows int) error
	StartRecording(ctx context.Context, params types.StartRecordingParams) (types.StartRecordingResult, error)
	StopRecording(ctx context.Context, recordingID string) (types.RecordingMeta, error)
	Status(ctx context.Context) (types.StatusResult, error)
}

// Server listens on a unix domain socket and dispatches newline-delimited
// JSON requests onto the backend. Each connection is independent; requests
// on one connection are handled concurrently and answered in completion
// order, correlated by ID.
type Server struct {
	path    string
	backend Backend

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a proxy server for the given socket path.
func NewServer(socketPath string, backend Backend) *Server {
	return &Server{
		path:    socketPath,
		backend: backend,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Path returns the endpoint's filesystem path.
func (s *Server) Path() string { return s.path }

// Start binds the socket and begins accepting connections. A stale socket
// file from a dead process is removed if nothing answers on it.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		if conn, err := net.Dial("unix", s.path); err == nil {
			conn.Close()
			return fmt.Errorf("endpoint %s already in use", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		metrics.ProxyConnections.Inc()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		metrics.ProxyConnections.Dec()
	}()

	var writeMu sync.Mutex
	var handlers sync.WaitGroup

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req types.ProxyRequest
		if err := json.Unmarshal(line, &req); err != nil {
			// Malformed lines are dropped; the connection stays up.
			log.Printf("proxy: dropping malformed request: %v", err)
			continue
		}
		handlers.Add(1)
		go func(req types.ProxyRequest) {
			defer handlers.Done()
			resp := s.dispatch(context.Background(), req)
			writeMu.Lock()
			defer writeMu.Unlock()
			line, err := json.Marshal(resp)
			if err != nil {
				log.Printf("proxy: encode response %d: %v", resp.ID, err)
				return
			}
			if _, err := conn.Write(append(line, '\n')); err != nil {
				log.Printf("proxy: write response %d: %v", resp.ID, err)
			}
		}(req)
	}
	handlers.Wait()
}

// dispatch routes one request onto the backend and converts the outcome
// into a response. Errors are answered per request, never thrown across
// the connection.
func (s *Server) dispatch(ctx context.Context, req types.ProxyRequest) types.ProxyResponse {
	result, err := s.call(ctx, req.Method, req.Params)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ProxyRequests.WithLabelValues(req.Method, outcome).Inc()

	if err != nil {
		return types.ProxyResponse{
			ID:    req.ID,
			Error: &types.ProxyError{Message: err.Error()},
		}
	}
	raw, merr := json.Marshal(result)
	if merr != nil {
		return types.ProxyResponse{
			ID:    req.ID,
			Error: &types.ProxyError{Message: fmt.Sprintf("encode result: %v", merr)},
		}
	}
	return types.ProxyResponse{ID: req.ID, Result: raw}
}

func (s *Server) call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case types.MethodType:
		var p types.TypeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return emptyResult{}, s.backend.TypeText(ctx, p.Text)

	case types.MethodSendKey:
		var p types.SendKeyParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return emptyResult{}, s.backend.SendKey(ctx, p.Key)

	case types.MethodGetContent:
		var p types.GetContentParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		content, err := s.backend.Content(ctx, p.VisibleOnly)
		if err != nil {
			return nil, err
		}
		return types.GetContentResult{Content: content}, nil

	case types.MethodTakeScreenshot:
		return s.backend.Screenshot(ctx)

	case types.MethodClear:
		return emptyResult{}, s.backend.Clear(ctx)

	case types.MethodResize:
		var p types.ResizeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return emptyResult{}, s.backend.Resize(ctx, p.Cols, p.Rows)

	case types.MethodStartRecording:
		var p types.StartRecordingParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.backend.StartRecording(ctx, p)

	case types.MethodStopRecording:
		var p types.StopRecordingParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		meta, err := s.backend.StopRecording(ctx, p.RecordingID)
		if err != nil {
			return nil, err
		}
		return meta, nil

	case types.MethodStatus:
		return s.backend.Status(ctx)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
}

// emptyResult marshals to {} so successful void operations still carry a
// result field.
type emptyResult struct{}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// Close stops accepting, closes open connections, and removes the socket
// file. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)
	return nil
}
