package relay

import "github.com/mmverma/dmchat/backend/internal/storage"

// Server -> client event kinds.
const (
	EventMessageDelivered = "message_delivered"
	EventUserTyping       = "user_typing"
	EventReadReceipt      = "read_receipt"
	EventUserStatus       = "user_status"
	EventOnlineUsers      = "online_users"
)

// Client -> server event kinds. authenticate must be the first frame
// on every new connection.
const (
	EventAuthenticate = "authenticate"
	EventTyping       = "typing"
	EventAckRead      = "ack_read"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is the wire envelope for every relay frame, both directions.
// Fields are populated per event kind; the rest stay empty.
type Event struct {
	Type      string               `json:"type"`
	Token     string               `json:"token,omitempty"`      // authenticate
	Message   *storage.Message     `json:"message,omitempty"`    // message_delivered
	Sender    *storage.UserSummary `json:"sender,omitempty"`     // message_delivered label
	MessageID int64                `json:"message_id,omitempty"` // read_receipt, ack_read
	UserID    int64                `json:"user_id,omitempty"`    // user_typing / user_status / typing target / ack_read target
	Status    string               `json:"status,omitempty"`     // user_status online|offline
	Users     []int64              `json:"users,omitempty"`      // online_users snapshot
}
