package types

import "encoding/json"

// Proxy method names. These are the operations a remote client can invoke
// on a session it does not own.
const (
	MethodType           = "type"
	MethodSendKey        = "sendKey"
	MethodGetContent     = "getContent"
	MethodTakeScreenshot = "takeScreenshot"
	MethodClear          = "clear"
	MethodResize         = "resize"
	MethodStartRecording = "startRecording"
	MethodStopRecording  = "stopRecording"
	MethodStatus         = "status"
)

// ProxyRequest is one newline-delimited JSON request on the tool-proxy socket.
// IDs are assigned by the client and must be unique per connection.
type ProxyRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ProxyError carries a request failure back to the client.
type ProxyError struct {
	Message string `json:"message"`
}

// ProxyResponse answers exactly one request. Exactly one of Result or Error
// is set. Responses are correlated by ID, not by arrival order.
type ProxyResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ProxyError     `json:"error,omitempty"`
}

// TypeParams is the request body for "type".
type TypeParams struct {
	Text string `json:"text"`
}

// SendKeyParams is the request body for "sendKey". Key is a named key such
// as "Enter", "Tab", "Up", or a control chord like "Ctrl+C".
type SendKeyParams struct {
	Key string `json:"key"`
}

// GetContentParams is the request body for "getContent".
type GetContentParams struct {
	VisibleOnly bool `json:"visibleOnly,omitempty"`
}

// GetContentResult is the response body for "getContent".
type GetContentResult struct {
	Content string `json:"content"`
}

// ScreenshotResult is the response body for "takeScreenshot". Data is the
// raw visible region of the terminal, escape sequences included, so it can
// be replayed into another terminal verbatim.
type ScreenshotResult struct {
	Data string `json:"data"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// ResizeParams is the request body for "resize".
type ResizeParams struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// StartRecordingParams is the request body for "startRecording". Durations
// are in seconds; zero means "no limit" (or the server default for the
// idle-time clamp).
type StartRecordingParams struct {
	Mode              RecordingMode `json:"mode,omitempty"`
	OutputDir         string        `json:"outputDir,omitempty"`
	IdleTimeLimit     float64       `json:"idleTimeLimit,omitempty"`
	MaxDuration       float64       `json:"maxDuration,omitempty"`
	InactivityTimeout float64       `json:"inactivityTimeout,omitempty"`
}

// StartRecordingResult is the response body for "startRecording".
type StartRecordingResult struct {
	ID   string `json:"id"`
	Path string `json:"path,omitempty"`
}

// StopRecordingParams is the request body for "stopRecording".
type StopRecordingParams struct {
	RecordingID string `json:"recordingId"`
}

// StatusResult is the response body for "status".
type StatusResult struct {
	Active     bool     `json:"active"`
	Cols       int      `json:"cols"`
	Rows       int      `json:"rows"`
	Pid        int      `json:"pid,omitempty"`
	Recordings []string `json:"recordings,omitempty"`
}
