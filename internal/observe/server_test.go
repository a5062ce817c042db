package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termshare/termshare/internal/session"
	"github.com/termshare/termshare/internal/term"
)

// fakeSession is the minimal Session the observer needs.
type fakeSession struct {
	mu      sync.Mutex
	nextSub int
	subs    map[int]func([]byte)
	done    chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{subs: make(map[int]func([]byte)), done: make(chan struct{})}
}

func (f *fakeSession) Write(p []byte) error        { return nil }
func (f *fakeSession) Resize(cols, rows int) error { return nil }
func (f *fakeSession) Content() string             { return "full text" }
func (f *fakeSession) VisibleContent() string      { return "visible text" }
func (f *fakeSession) Screenshot() []byte          { return []byte("initial screen") }
func (f *fakeSession) ClearBuffer()                {}
func (f *fakeSession) Size() (int, int)            { return 80, 24 }
func (f *fakeSession) Active() bool                { return true }
func (f *fakeSession) Pid() int                    { return 1 }
func (f *fakeSession) ExitCode() int               { return 0 }
func (f *fakeSession) Done() <-chan struct{}       { return f.done }
func (f *fakeSession) Close() error                { return nil }
func (f *fakeSession) OnExit(fn func(int)) func()  { return func() {} }

func (f *fakeSession) Subscribe(fn func([]byte)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeSession) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSession) emit(p []byte) {
	f.mu.Lock()
	subs := make([]func([]byte), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(p)
	}
}

func newTestObserver(t *testing.T) (*Server, *fakeSession) {
	t.Helper()
	fake := newFakeSession()
	mgr := session.NewManager(session.Config{
		Factory: func(term.Config) (session.Session, error) { return fake, nil },
	})
	return NewServer("127.0.0.1:0", mgr), fake
}

func TestObserverStatus(t *testing.T) {
	srv, _ := newTestObserver(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d", rec.Code)
	}
	// The status endpoint never constructs a session.
	if !strings.Contains(rec.Body.String(), `"active":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestObserverContent(t *testing.T) {
	srv, _ := newTestObserver(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/content", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "full text" {
		t.Fatalf("GET /content = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/content?visible=1", nil))
	if rec.Body.String() != "visible text" {
		t.Errorf("GET /content?visible=1 = %q", rec.Body.String())
	}
}

func TestObserverMetricsExposed(t *testing.T) {
	srv, _ := newTestObserver(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "termshare_") {
		t.Error("metrics body missing termshare collectors")
	}
}

func TestObserverStream(t *testing.T) {
	srv, fake := newTestObserver(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, first, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read initial frame: %v", err)
	}
	if string(first) != "initial screen" {
		t.Errorf("initial frame = %q", first)
	}

	// The handler subscribes after sending the initial frame; wait for its
	// subscription before emitting so the event cannot be lost. The manager
	// itself holds the first subscription (the recording fan-out).
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && fake.subscriberCount() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if fake.subscriberCount() < 2 {
		t.Fatal("observer never subscribed to session output")
	}

	fake.emit([]byte("live output"))
	_, next, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read live frame: %v", err)
	}
	if string(next) != "live output" {
		t.Errorf("live frame = %q", next)
	}
}
