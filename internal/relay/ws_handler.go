package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mmverma/dmchat/backend/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow CORS for demo; tighten in prod.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterWS mounts GET /ws. The connection is upgraded without
// credentials; the first frame must be an authenticate event carrying
// a valid session token, otherwise the connection is closed. No retry:
// the client reopens with a fresh token.
func RegisterWS(rg *gin.RouterGroup, hub *Hub, jwtSecret string) {
	rg.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(authWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != EventAuthenticate {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authenticate first"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}

		claims, err := auth.ParseToken(jwtSecret, ev.Token)
		if err != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}

		client := newClient(hub, conn, claims.UserId)
		hub.register <- client

		go client.writePump()
		go client.readPump()
	})
}
