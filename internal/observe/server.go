// Package observe serves a read-only loopback HTTP view of the live
// session: status and content snapshots, a live output stream over
// websocket, and prometheus metrics.
package observe

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/termshare/termshare/internal/session"
)

var upgrader = websocket.Upgrader{
	// Loopback-only server; the socket never leaves the machine.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server is the observer HTTP endpoint. Observers never write to the
// session.
type Server struct {
	e    *echo.Echo
	mgr  *session.Manager
	addr string
}

// NewServer builds the observer for the given manager.
func NewServer(addr string, mgr *session.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{e: e, mgr: mgr, addr: addr}
	e.GET("/status", s.status)
	e.GET("/content", s.content)
	e.GET("/ws", s.stream)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return s
}

// Handler exposes the HTTP handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

// Start begins serving. It blocks until Shutdown.
func (s *Server) Start() error {
	return s.e.Start(s.addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) status(c echo.Context) error {
	st, err := s.mgr.Status(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) content(c echo.Context) error {
	visible := c.QueryParam("visible") == "true" || c.QueryParam("visible") == "1"
	content, err := s.mgr.Content(c.Request().Context(), visible)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.String(http.StatusOK, content)
}

// stream upgrades to a websocket and pumps live session output to the
// observer. The current screen is sent first so the observer starts from
// a coherent picture; incoming frames are drained and ignored.
func (s *Server) stream(c echo.Context) error {
	shot, err := s.mgr.Screenshot(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte(shot.Data)); err != nil {
		return nil
	}

	done := make(chan struct{})
	var writeMu sync.Mutex
	cancel, err := s.mgr.SubscribeOutput(c.Request().Context(), func(p []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		select {
		case <-done:
			return
		default:
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})
	if err != nil {
		return nil
	}
	defer cancel()

	// Drain reads so we notice the peer going away.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				writeMu.Lock()
				select {
				case <-done:
				default:
					close(done)
				}
				writeMu.Unlock()
				return
			}
		}
	}()

	<-done
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}
