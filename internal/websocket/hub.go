package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"

	"github.com/phitk/render/internal/model"
)

// AllJobs subscribes a client to every job.
const AllJobs uint32 = 0

// Error codes carried by error messages
const (
	CodeRenderFailed = "RENDER_FAILED"
	CodeCanceled     = "CANCELED"
)

// DefaultProgressRate caps progress messages per job per second.
const DefaultProgressRate = 10

// Client represents a WebSocket client
type Client struct {
	JobID uint32
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub fans job updates out to subscribed WebSocket clients. It implements
// the task queue's observer interface.
type Hub struct {
	// Clients grouped by job ID
	clients map[uint32]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	progressRate rate.Limit
	limMu        sync.Mutex
	limiters     map[uint32]*jobLimiter

	logger *slog.Logger
}

type jobLimiter struct {
	limiter *rate.Limiter
	stage   model.Stage
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   uint32
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:      make(map[uint32]map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan *BroadcastMessage, 256),
		done:         make(chan struct{}),
		progressRate: DefaultProgressRate,
		limiters:     make(map[uint32]*jobLimiter),
		logger:       logger,
	}
}

// SetProgressRate changes the per-job progress cap. Call before Run.
func (h *Hub) SetProgressRate(perSecond float64) {
	h.progressRate = rate.Limit(perSecond)
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.logger.Debug("websocket client registered", "job_id", client.JobID)

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("websocket client unregistered", "job_id", client.JobID)

		case msg := <-h.broadcast:
			h.deliver(h.clients[msg.JobID], msg.Message)
			if msg.JobID != AllJobs {
				h.deliver(h.clients[AllJobs], msg.Message)
			}
		}
	}
}

func (h *Hub) deliver(clients map[*Client]bool, data []byte) {
	for client := range clients {
		select {
		case client.Send <- data:
		default:
			// Slow consumer
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.Send)
		if len(clients) == 0 {
			delete(h.clients, client.JobID)
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) send(jobID uint32, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal websocket message", "job_id", jobID, "error", err)
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	default:
		h.logger.Warn("websocket broadcast buffer full, dropping message", "job_id", jobID)
	}
}

// JobUpdated sends a progress message. Stage changes always go out; frame
// progress within a stage is throttled per job.
func (h *Hub) JobUpdated(job *model.Job) {
	h.limMu.Lock()
	l, ok := h.limiters[job.ID]
	if !ok {
		l = &jobLimiter{limiter: rate.NewLimiter(h.progressRate, 1)}
		h.limiters[job.ID] = l
	}
	stageChanged := l.stage != job.Stage
	l.stage = job.Stage
	allowed := l.limiter.Allow()
	h.limMu.Unlock()

	if !stageChanged && !allowed {
		return
	}
	h.BroadcastProgress(job)
}

// JobFinished sends the terminal message for a job.
func (h *Hub) JobFinished(job *model.Job) {
	h.limMu.Lock()
	delete(h.limiters, job.ID)
	h.limMu.Unlock()

	switch job.Status {
	case model.JobStatusSucceeded:
		h.BroadcastComplete(job.ID, job.View())
	case model.JobStatusCanceled:
		h.BroadcastError(job.ID, CodeCanceled, "job canceled")
	default:
		msg := "render failed"
		if job.Error != nil {
			msg = *job.Error
		}
		h.BroadcastError(job.ID, CodeRenderFailed, msg)
	}
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(job *model.Job) {
	h.send(job.ID, model.WSProgressMessage{
		Type:   model.WSMessageTypeProgress,
		JobID:  job.ID,
		Status: job.View().Status,
		Frame:  job.Frame,
		Total:  job.TotalFrames,
	})
}

// BroadcastComplete sends a completion message to all job subscribers
func (h *Hub) BroadcastComplete(jobID uint32, result interface{}) {
	h.send(jobID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError sends an error message to all job subscribers
func (h *Hub) BroadcastError(jobID uint32, code, message string) {
	h.send(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, jobID uint32) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	pong := make(chan struct{}, 1)

	// Writer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-pong:
				data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "job_id", jobID, "error", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			select {
			case pong <- struct{}{}:
			default:
			}
		}
	}
}
