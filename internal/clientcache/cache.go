// Package clientcache holds the client-side view of conversations: an
// ordered message list per peer, a recency-sorted summary list, and
// the set of peers currently online. Optimistic local sends, server
// confirmations and asynchronously pushed relay events are merged into
// one consistent view; every merge is keyed by message id, never by
// position.
package clientcache

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// DefaultTypingWindow is how long a user-typing indicator stays lit
// without renewal, tolerating a lost "stopped" signal.
const DefaultTypingWindow = 3 * time.Second

var statusRank = map[string]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

type Message struct {
	ID          string    `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Content     string    `json:"content"`
	MediaURL    string    `json:"media_url,omitempty"`
	MediaType   string    `json:"media_type,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Pending     bool      `json:"pending,omitempty"`
}

type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type Summary struct {
	Contact     UserSummary `json:"contact"`
	LastMessage Message     `json:"last_message"`
	UnreadCount int         `json:"unread_count"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Cache struct {
	mu sync.Mutex

	selfID       int64
	now          func() time.Time
	typingWindow time.Duration

	threads   map[int64][]*Message // peer id -> arrival-ordered messages
	index     map[string]*Message  // message id -> entry, the merge key
	summaries []*Summary
	contacts  map[int64]UserSummary
	online    map[int64]bool
	typing    map[int64]time.Time // peer id -> indicator expiry
}

func New(selfID int64) *Cache {
	return &Cache{
		selfID:       selfID,
		now:          time.Now,
		typingWindow: DefaultTypingWindow,
		threads:      make(map[int64][]*Message),
		index:        make(map[string]*Message),
		contacts:     make(map[int64]UserSummary),
		online:       make(map[int64]bool),
		typing:       make(map[int64]time.Time),
	}
}

func (c *Cache) peerOf(m *Message) int64 {
	if m.SenderID == c.selfID {
		return m.RecipientID
	}
	return m.SenderID
}

// AddPending records an optimistic local send under a temporary id and
// returns the entry for immediate rendering.
func (c *Cache) AddPending(peerID int64, content, mediaURL, mediaType string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := &Message{
		ID:          "tmp-" + uuid.NewString(),
		SenderID:    c.selfID,
		RecipientID: peerID,
		Content:     content,
		MediaURL:    mediaURL,
		MediaType:   mediaType,
		Status:      StatusSent,
		CreatedAt:   c.now(),
		Pending:     true,
	}
	c.threads[peerID] = append(c.threads[peerID], m)
	c.index[m.ID] = m
	return *m
}

// Confirm closes an optimistic entry with the canonical server record.
// The entry keeps its position in the thread; only the identity and
// fields are replaced.
func (c *Cache) Confirm(tempID string, canonical Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[tempID]
	if !ok {
		return false
	}
	delete(c.index, tempID)
	*entry = canonical
	entry.Pending = false
	c.index[entry.ID] = entry

	c.bumpSummary(entry, false)
	return true
}

// Fail drops a pending entry whose durable send failed. Not retried;
// a manual retry is a brand-new send with a new temporary id.
func (c *Cache) Fail(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[tempID]
	if !ok || !entry.Pending {
		return false
	}
	delete(c.index, tempID)

	peer := c.peerOf(entry)
	thread := c.threads[peer]
	for i, m := range thread {
		if m == entry {
			c.threads[peer] = append(thread[:i], thread[i+1:]...)
			break
		}
	}
	return true
}

// ApplyPush merges a relay-pushed incoming message. A duplicate push
// for a known id only advances its status.
func (c *Cache) ApplyPush(pushed Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.index[pushed.ID]; ok {
		c.advance(entry, pushed.Status)
		return
	}

	m := pushed
	peer := c.peerOf(&m)
	c.threads[peer] = append(c.threads[peer], &m)
	c.index[m.ID] = &m

	c.bumpSummary(&m, m.SenderID != c.selfID)
}

// AdvanceStatus applies a status transition by message id. Stale
// events are ignored: the status only ever moves forward.
func (c *Cache) AdvanceStatus(id, status string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[id]
	if !ok {
		return false
	}
	return c.advance(entry, status)
}

func (c *Cache) advance(entry *Message, status string) bool {
	if statusRank[status] <= statusRank[entry.Status] {
		return false
	}
	entry.Status = status
	for _, s := range c.summaries {
		if s.LastMessage.ID == entry.ID {
			s.LastMessage.Status = status
		}
	}
	return true
}

// LoadThread replaces a peer's thread with a server page, keeping any
// still-pending optimistic entries at the tail.
func (c *Cache) LoadThread(peerID int64, msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []*Message
	for _, m := range c.threads[peerID] {
		if m.Pending {
			pending = append(pending, m)
			continue
		}
		delete(c.index, m.ID)
	}

	thread := make([]*Message, 0, len(msgs)+len(pending))
	for i := range msgs {
		m := msgs[i]
		thread = append(thread, &m)
		c.index[m.ID] = &m
	}
	thread = append(thread, pending...)
	c.threads[peerID] = thread
}

// MarkThreadRead mirrors a conversation fetch locally: everything the
// peer sent becomes read and the unread counter resets.
func (c *Cache) MarkThreadRead(peerID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.threads[peerID] {
		if m.SenderID == peerID {
			c.advance(m, StatusRead)
		}
	}
	for _, s := range c.summaries {
		if s.Contact.ID == peerID {
			s.UnreadCount = 0
		}
	}
}

// bumpSummary moves the peer's conversation to the top of the list,
// synthesizing a summary from the contact list when the pair has no
// conversation yet. An unknown peer cannot be summarized until the
// contact list arrives.
func (c *Cache) bumpSummary(m *Message, incoming bool) {
	peer := c.peerOf(m)
	for _, s := range c.summaries {
		if s.Contact.ID == peer {
			s.LastMessage = *m
			s.UpdatedAt = m.CreatedAt
			if incoming {
				s.UnreadCount++
			}
			c.resort()
			return
		}
	}

	contact, ok := c.contacts[peer]
	if !ok {
		return
	}
	s := &Summary{
		Contact:     contact,
		LastMessage: *m,
		UpdatedAt:   m.CreatedAt,
	}
	if incoming {
		s.UnreadCount = 1
	}
	c.summaries = append(c.summaries, s)
	c.resort()
}

func (c *Cache) resort() {
	sort.SliceStable(c.summaries, func(i, j int) bool {
		return c.summaries[i].UpdatedAt.After(c.summaries[j].UpdatedAt)
	})
}

// LoadSummaries replaces the summary list with the server's inbox
// view.
func (c *Cache) LoadSummaries(list []Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.summaries = c.summaries[:0]
	for i := range list {
		s := list[i]
		c.summaries = append(c.summaries, &s)
	}
	c.resort()
}

func (c *Cache) SetContacts(contacts []UserSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range contacts {
		c.contacts[u.ID] = u
	}
}

func (c *Cache) ApplyPresence(userID int64, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if online {
		c.online[userID] = true
		return
	}
	delete(c.online, userID)
}

func (c *Cache) ApplyOnlineSnapshot(ids []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = make(map[int64]bool, len(ids))
	for _, id := range ids {
		c.online[id] = true
	}
}

func (c *Cache) IsOnline(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[userID]
}

// ApplyTyping lights the peer's typing indicator; it self-expires
// after the typing window unless renewed.
func (c *Cache) ApplyTyping(peerID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing[peerID] = c.now().Add(c.typingWindow)
}

func (c *Cache) IsTyping(peerID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.typing[peerID])
}

// Thread returns a copy of the peer's messages in arrival order.
func (c *Cache) Thread(peerID int64) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.threads[peerID]))
	for _, m := range c.threads[peerID] {
		out = append(out, *m)
	}
	return out
}

// Summaries returns a copy of the conversation list, most recent
// first.
func (c *Cache) Summaries() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Summary, 0, len(c.summaries))
	for _, s := range c.summaries {
		out = append(out, *s)
	}
	return out
}
