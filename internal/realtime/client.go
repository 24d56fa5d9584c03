package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Frames from the studio UI (JPEG video at ~2fps plus PCM audio) fit well under this.
const maxMessageBytes = 512 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// FrameSink receives operator media for the studio's AI assistant.
type FrameSink interface {
	PushAudio(studioID uuid.UUID, pcm []byte) error
	PushVideo(studioID uuid.UUID, jpeg []byte) error
}

// Client represents a single dashboard WebSocket connection to a studio.
type Client struct {
	ID       string
	StudioID uuid.UUID
	UserID   uuid.UUID
	Role     string
	hub      *Hub
	sfu      *SFU
	frames   FrameSink
	conn     *websocket.Conn
	send     chan WSMessage
	logger   *zap.Logger
}

// IsOwner reports whether the client is the seller who owns the studio.
func (c *Client) IsOwner() bool { return c.UserID == c.StudioID }

// ServeWs handles the WebSocket upgrade and runs the client loop. studio_id defaults to the
// caller's own studio; only the owner or an admin may join.
func ServeWs(hub *Hub, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error), sfu *SFU, frames FrameSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userIDStr, role, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		studioID := userID
		if s := c.Query("studio_id"); s != "" {
			if studioID, err = uuid.Parse(s); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid studio_id"})
				return
			}
		}
		if studioID != userID && role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your studio"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			StudioID: studioID,
			UserID:   userID,
			Role:     role,
			hub:      hub,
			sfu:      sfu,
			frames:   frames,
			conn:     conn,
			send:     make(chan WSMessage, 256),
			logger:   logger.With(zap.String("studio_id", studioID.String())),
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type mediaPayload struct {
	Data []byte `json:"data"` // base64 in JSON
}

func (c *Client) readPump() {
	defer func() {
		if c.sfu != nil {
			c.sfu.UnregisterClient(c.StudioID, c.ID)
		}
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	sendToMe := func(event string, payload interface{}) {
		c.hub.SendToClient(c.StudioID, c.ID, event, payload)
	}

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "webrtc_publisher_offer":
			if c.sfu == nil || !c.IsOwner() {
				continue
			}
			var p sdpPayload
			if err := json.Unmarshal(msg.Data, &p); err == nil && p.SDP != "" {
				sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
				if err := c.sfu.HandlePublisherOffer(c.StudioID, sdp, sendToMe); err != nil {
					c.logger.Warn("publisher offer failed", zap.Error(err))
					sendToMe("webrtc_error", map[string]string{"message": "publish_failed"})
				}
			}
		case "webrtc_subscribe":
			if c.sfu != nil {
				if err := c.sfu.HandleSubscribe(c.StudioID, c.ID, sendToMe); err != nil {
					c.logger.Warn("subscribe failed", zap.Error(err))
				}
			}
		case "webrtc_subscriber_answer":
			if c.sfu == nil {
				continue
			}
			var p sdpPayload
			if err := json.Unmarshal(msg.Data, &p); err == nil && p.SDP != "" {
				sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
				_ = c.sfu.HandleSubscriberAnswer(c.StudioID, c.ID, sdp)
			}
		case "webrtc_ice":
			if c.sfu == nil {
				continue
			}
			var p struct {
				Target    string          `json:"target"`
				Candidate json.RawMessage `json:"candidate"`
			}
			if err := json.Unmarshal(msg.Data, &p); err != nil || len(p.Candidate) == 0 {
				continue
			}
			var cand webrtc.ICECandidateInit
			if json.Unmarshal(p.Candidate, &cand) != nil {
				continue
			}
			switch {
			case p.Target == "publisher" && c.IsOwner():
				_ = c.sfu.HandlePublisherICE(c.StudioID, cand)
			case p.Target == "subscriber":
				_ = c.sfu.HandleSubscriberICE(c.StudioID, c.ID, cand)
			}
		case "assistant_audio_in", "assistant_video_frame":
			if c.frames == nil || !c.IsOwner() {
				continue
			}
			var p mediaPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || len(p.Data) == 0 {
				continue
			}
			// Frames sent while the assistant is down are dropped.
			if msg.Event == "assistant_audio_in" {
				_ = c.frames.PushAudio(c.StudioID, p.Data)
			} else {
				_ = c.frames.PushVideo(c.StudioID, p.Data)
			}
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
