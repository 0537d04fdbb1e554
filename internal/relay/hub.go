package relay

import (
	"context"
	"encoding/json"
	"log"

	"github.com/mmverma/dmchat/backend/internal/presence"
	"github.com/mmverma/dmchat/backend/internal/storage"
)

// Hub owns connection registration and fan-out. Register/unregister
// run on the hub goroutine; the Push helpers are safe from any
// goroutine because the directory and client sends are lock-guarded.
type Hub struct {
	store     *storage.Store
	directory *presence.Directory

	register   chan *Client
	unregister chan *Client
}

func NewHub(store *storage.Store, directory *presence.Directory) *Hub {
	return &Hub{
		store:      store,
		directory:  directory,
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			// Last writer wins; a displaced connection keeps running
			// until its own socket dies, but is no longer tracked.
			h.directory.Register(client.userID, client)
			h.store.TouchLastSeen(client.userID)

			client.Send(marshal(Event{Type: EventOnlineUsers, Users: h.directory.Online()}))
			h.broadcast(Event{Type: EventUserStatus, UserID: client.userID, Status: StatusOnline})

		case client := <-h.unregister:
			active := h.directory.Unregister(client.userID, client)
			client.close()
			// A stale handle (user already reconnected) must not mark
			// the user offline.
			if active {
				h.store.TouchLastSeen(client.userID)
				h.broadcast(Event{Type: EventUserStatus, UserID: client.userID, Status: StatusOffline})
			}

		case <-ctx.Done():
			for _, hd := range h.directory.Handles() {
				if c, ok := hd.(*Client); ok {
					c.close()
				}
			}
			return
		}
	}
}

// broadcast sends an event to every live connection.
func (h *Hub) broadcast(ev Event) {
	payload := marshal(ev)
	for _, hd := range h.directory.Handles() {
		hd.Send(payload)
	}
}

// PushMessage relays a freshly persisted message to its recipient, if
// connected. Best effort: no retry, no queue. A successful handoff is
// recorded as the delivered status.
func (h *Hub) PushMessage(m storage.Message, sender storage.UserSummary) {
	hd, ok := h.directory.Lookup(m.RecipientID)
	if !ok {
		return
	}
	if err := h.store.MarkMessageDelivered(m.ID); err != nil {
		log.Printf("[relay] mark delivered %d: %v", m.ID, err)
	} else if m.Status == storage.StatusSent {
		m.Status = storage.StatusDelivered
	}
	if !hd.Send(marshal(Event{Type: EventMessageDelivered, Message: &m, Sender: &sender})) {
		log.Printf("[relay] dropped message %d for slow user %d", m.ID, m.RecipientID)
	}
}

// PushReadReceipt tells the original sender their message was read.
func (h *Hub) PushReadReceipt(toUserID, messageID, readerID int64) {
	if hd, ok := h.directory.Lookup(toUserID); ok {
		hd.Send(marshal(Event{Type: EventReadReceipt, MessageID: messageID, UserID: readerID}))
	}
}

// PushTyping forwards a typing signal; the receiving client times the
// indicator out on its own.
func (h *Hub) PushTyping(toUserID, fromUserID int64) {
	if hd, ok := h.directory.Lookup(toUserID); ok {
		hd.Send(marshal(Event{Type: EventUserTyping, UserID: fromUserID}))
	}
}

func marshal(ev Event) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[relay] marshal %s: %v", ev.Type, err)
		return nil
	}
	return payload
}
