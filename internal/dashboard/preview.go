package dashboard

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/storyforge/internal/genclient"
	"github.com/zulandar/storyforge/internal/preview"
)

// errorReport is the renderer's payload for one observed error.
type errorReport struct {
	Type     string `json:"type,omitempty"`
	Category string `json:"category"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

func (r errorReport) toError() (preview.Error, error) {
	cat, err := preview.ParseCategory(r.Category)
	if err != nil {
		return preview.Error{}, err
	}
	return preview.Error{
		Category:   cat,
		Message:    r.Message,
		SourceFile: r.File,
		Line:       r.Line,
		Column:     r.Column,
	}, nil
}

func handlePreviewError(errs ErrorReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req errorReport
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		e, err := req.toError()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"accepted": errs.Report(e)})
	}
}

// handlePreviewErrors reports the current error, the retained history and
// how many reports the denylist discarded.
func handlePreviewErrors(log ErrorLog, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"current":  log.Current(),
			"history":  log.History(),
			"filtered": log.Filtered(),
			"clients":  hub.Clients(),
		})
	}
}

// socketMessage is sent from the server to a connected renderer.
type socketMessage struct {
	Type      string           `json:"type"`
	Accepted  *bool            `json:"accepted,omitempty"`
	Error     string           `json:"error,omitempty"`
	ItemID    string           `json:"itemId,omitempty"`
	Files     []genclient.File `json:"files,omitempty"`
	UpdatedAt *time.Time       `json:"updatedAt,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans refreshed artifacts out to connected preview renderers.
type Hub struct {
	mu    sync.Mutex
	conns map[chan socketMessage]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[chan socketMessage]struct{})}
}

// BroadcastArtifact sends the files to every renderer. Renderers that are
// not keeping up miss the update; the next one supersedes it.
func (h *Hub) BroadcastArtifact(itemID string, art *genclient.Artifact) {
	msg := socketMessage{Type: "artifact", ItemID: itemID, Files: art.Files}
	if !art.UpdatedAt.IsZero() {
		t := art.UpdatedAt
		msg.UpdatedAt = &t
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.conns {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Clients returns the number of connected renderers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) add() chan socketMessage {
	ch := make(chan socketMessage, 16)
	h.mu.Lock()
	h.conns[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) remove(ch chan socketMessage) {
	h.mu.Lock()
	delete(h.conns, ch)
	h.mu.Unlock()
}

// handlePreviewSocket accepts error reports from a renderer and acknowledges
// each one. The same connection receives artifact updates.
func handlePreviewSocket(hub *Hub, errs ErrorReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade preview websocket", "error", err)
			return
		}
		defer ws.Close()

		out := hub.add()
		defer hub.remove(out)
		acks := make(chan socketMessage, 16)
		done := make(chan struct{})

		// Single writer per connection.
		go func() {
			for {
				var msg socketMessage
				select {
				case <-done:
					return
				case msg = <-acks:
				case msg = <-out:
				}
				if err := ws.WriteJSON(msg); err != nil {
					ws.Close()
					return
				}
			}
		}()
		defer close(done)

		for {
			var req errorReport
			if err := ws.ReadJSON(&req); err != nil {
				slog.Debug("preview websocket closed", "error", err)
				return
			}
			if req.Type != "" && req.Type != "error" {
				continue
			}
			ack := socketMessage{Type: "ack"}
			accepted := false
			if e, err := req.toError(); err != nil {
				ack.Error = err.Error()
			} else {
				accepted = errs.Report(e)
			}
			ack.Accepted = &accepted
			select {
			case acks <- ack:
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
