// Package client implements the tool-proxy counterpart used by a process
// that did not create the session: it connects to the endpoint, turns
// local calls into proxied requests, and matches responses by correlation
// ID.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/termshare/termshare/pkg/types"
)

var (
	// ErrEndpointAbsent means no socket file exists at the path: there is
	// no session to attach to. Callers may elect to self-host instead.
	ErrEndpointAbsent = errors.New("no session endpoint found")
	// ErrConnectionRefused means the socket file exists but nothing
	// answered: the hosting session likely crashed.
	ErrConnectionRefused = errors.New("connection refused, session may have crashed")
	// ErrClientClosed rejects calls made after the connection ended.
	ErrClientClosed = errors.New("proxy client closed")
)

// RemoteError is a failure reported by the server for one request.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

const dialTimeout = 5 * time.Second

// Client is a tool-proxy client. It is safe for concurrent use; responses
// are correlated by ID, so concurrent calls may complete out of order.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan types.ProxyResponse
	closed  bool
	err     error
}

// Dial connects to the endpoint at socketPath. The two failure classes are
// distinguished so callers can pick between diagnostics and a self-hosting
// fallback.
func Dial(socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrEndpointAbsent, socketPath)
		}
		return nil, fmt.Errorf("stat endpoint %s: %w", socketPath, err)
	}

	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", ErrConnectionRefused, socketPath)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[int64]chan types.ProxyResponse),
	}
	go c.readLoop()
	return c, nil
}

// readLoop delivers responses to their pending futures. A response whose
// ID has no pending request is dropped. Any read error is fatal for the
// whole client: every pending and future call fails.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		var resp types.ProxyResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	err := scanner.Err()
	if err == nil {
		err = errors.New("connection closed")
	}
	c.fail(fmt.Errorf("proxy connection lost: %w", err))
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.conn.Close()
	for _, ch := range pending {
		close(ch)
	}
}

// Call sends one request and waits for its response. result, if non-nil,
// receives the decoded result field. The protocol carries no timeout, so
// a stalled peer stalls the call; bound it with ctx.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		raw = b
	}

	ch := make(chan types.ProxyResponse, 1)
	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = ErrClientClosed
		}
		return err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	line, err := json.Marshal(types.ProxyRequest{ID: id, Method: method, Params: raw})
	if err != nil {
		c.unregister(id)
		return fmt.Errorf("encode request: %w", err)
	}

	c.writeMu.Lock()
	_, err = c.conn.Write(append(line, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.unregister(id)
		return fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.unregister(id)
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			if err == nil {
				err = ErrClientClosed
			}
			return err
		}
		if resp.Error != nil {
			return &RemoteError{Method: method, Message: resp.Error.Message}
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
		return nil
	}
}

func (c *Client) unregister(id int64) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// Close ends the connection. Pending calls fail with ErrClientClosed.
func (c *Client) Close() error {
	c.fail(ErrClientClosed)
	return nil
}

// TypeText types literal text into the remote session.
func (c *Client) TypeText(ctx context.Context, text string) error {
	return c.Call(ctx, types.MethodType, types.TypeParams{Text: text}, nil)
}

// SendKey sends a named key to the remote session.
func (c *Client) SendKey(ctx context.Context, key string) error {
	return c.Call(ctx, types.MethodSendKey, types.SendKeyParams{Key: key}, nil)
}

// Content reads the remote session's plain-text output.
func (c *Client) Content(ctx context.Context, visibleOnly bool) (string, error) {
	var res types.GetContentResult
	err := c.Call(ctx, types.MethodGetContent, types.GetContentParams{VisibleOnly: visibleOnly}, &res)
	return res.Content, err
}

// Screenshot captures the remote session's raw visible region.
func (c *Client) Screenshot(ctx context.Context) (types.ScreenshotResult, error) {
	var res types.ScreenshotResult
	err := c.Call(ctx, types.MethodTakeScreenshot, nil, &res)
	return res, err
}

// Clear drops the remote session's scrollback.
func (c *Client) Clear(ctx context.Context) error {
	return c.Call(ctx, types.MethodClear, nil, nil)
}

// Resize changes the remote terminal's dimensions.
func (c *Client) Resize(ctx context.Context, cols, rows int) error {
	return c.Call(ctx, types.MethodResize, types.ResizeParams{Cols: cols, Rows: rows}, nil)
}

// StartRecording begins a recording of the remote session.
func (c *Client) StartRecording(ctx context.Context, params types.StartRecordingParams) (types.StartRecordingResult, error) {
	var res types.StartRecordingResult
	err := c.Call(ctx, types.MethodStartRecording, params, &res)
	return res, err
}

// StopRecording finalizes a recording by ID.
func (c *Client) StopRecording(ctx context.Context, recordingID string) (types.RecordingMeta, error) {
	var res types.RecordingMeta
	err := c.Call(ctx, types.MethodStopRecording, types.StopRecordingParams{RecordingID: recordingID}, &res)
	return res, err
}

// Status reports the remote session and recording state.
func (c *Client) Status(ctx context.Context) (types.StatusResult, error) {
	var res types.StatusResult
	err := c.Call(ctx, types.MethodStatus, nil, &res)
	return res, err
}
