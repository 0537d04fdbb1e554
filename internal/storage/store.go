package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message statuses; transitions only ever move forward.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

var ErrNotFound = errors.New("storage: not found")

type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Content     string    `json:"content"`
	MediaURL    string    `json:"media_url,omitempty"`
	MediaType   string    `json:"media_type,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type UserSummary struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Avatar   string     `json:"avatar"`
	Online   bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type ConversationSummary struct {
	ID          int64       `json:"id"`
	Contact     UserSummary `json:"contact"`
	LastMessage Message     `json:"last_message"`
	UnreadCount int         `json:"unread_count"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Store wraps the SQL backend with the domain operations. All queries
// are written with ? placeholders and rebound for postgres.
type Store struct {
	db     *sql.DB
	driver string
}

func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// q rewrites ? placeholders to $n when running against postgres.
func (s *Store) q(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// pairKey canonicalizes a participant pair so {A,B} and {B,A} key the
// same conversation row.
func pairKey(a, b int64) (lo, hi int64) {
	if a < b {
		return a, b
	}
	return b, a
}

func (s *Store) CreateUser(username, email, passwordHash string) (int64, error) {
	var id int64
	err := s.db.QueryRow(s.q(
		`INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?) RETURNING id`),
		username, email, passwordHash).Scan(&id)
	return id, err
}

func (s *Store) UserByEmail(email string) (UserSummary, string, error) {
	var u UserSummary
	var hash string
	var last sql.NullTime
	err := s.db.QueryRow(s.q(
		`SELECT id, username, email, avatar, password_hash, last_seen FROM users WHERE email=?`),
		email).Scan(&u.ID, &u.Username, &u.Email, &u.Avatar, &hash, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return u, "", ErrNotFound
	}
	if err != nil {
		return u, "", err
	}
	if last.Valid {
		t := last.Time
		u.LastSeen = &t
	}
	return u, hash, nil
}

func (s *Store) User(id int64) (UserSummary, error) {
	var u UserSummary
	var last sql.NullTime
	err := s.db.QueryRow(s.q(
		`SELECT id, username, email, avatar, last_seen FROM users WHERE id=?`),
		id).Scan(&u.ID, &u.Username, &u.Email, &u.Avatar, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if last.Valid {
		t := last.Time
		u.LastSeen = &t
	}
	return u, nil
}

func (s *Store) UserExists(id int64) (bool, error) {
	var n int
	err := s.db.QueryRow(s.q(`SELECT COUNT(1) FROM users WHERE id=?`), id).Scan(&n)
	return n > 0, err
}

func (s *Store) UsernameOrEmailTaken(username, email string) (bool, error) {
	var n int
	err := s.db.QueryRow(s.q(
		`SELECT COUNT(1) FROM users WHERE username=? OR email=?`), username, email).Scan(&n)
	return n > 0, err
}

func (s *Store) UsernameTaken(username string, excludeID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(s.q(
		`SELECT COUNT(1) FROM users WHERE username=? AND id<>?`), username, excludeID).Scan(&n)
	return n > 0, err
}

// ListUsers returns everyone except the caller, for the contact list.
// q filters by username substring when non-empty.
func (s *Store) ListUsers(excludeID int64, q string) ([]UserSummary, error) {
	query := `SELECT id, username, email, avatar, last_seen FROM users WHERE id<>?`
	args := []any{excludeID}
	if q != "" {
		query += ` AND username LIKE ?`
		args = append(args, "%"+q+"%")
	}
	query += ` ORDER BY username`

	rows, err := s.db.Query(s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserSummary
	for rows.Next() {
		var u UserSummary
		var last sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Avatar, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			u.LastSeen = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateProfile(id int64, username, avatar string) error {
	sets := []string{}
	args := []any{}
	if username != "" {
		sets = append(sets, "username=?")
		args = append(args, username)
	}
	if avatar != "" {
		sets = append(sets, "avatar=?")
		args = append(args, avatar)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := s.db.Exec(s.q(
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id=?`), args...)
	return err
}

func (s *Store) TouchLastSeen(id int64) error {
	_, err := s.db.Exec(s.q(`UPDATE users SET last_seen=? WHERE id=?`), time.Now().UTC(), id)
	return err
}

// CreateMessage persists a new message with status "sent" and returns
// the canonical record.
func (s *Store) CreateMessage(senderID, recipientID int64, content, mediaURL, mediaType string) (Message, error) {
	m := Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		MediaURL:    mediaURL,
		MediaType:   mediaType,
		Status:      StatusSent,
		CreatedAt:   time.Now().UTC(),
	}
	err := s.db.QueryRow(s.q(
		`INSERT INTO messages (sender_id, recipient_id, content, media_url, media_type, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		m.SenderID, m.RecipientID, m.Content, m.MediaURL, m.MediaType, m.Status, m.CreatedAt).Scan(&m.ID)
	return m, err
}

// BumpConversation replaces the pair's last-message pointer and
// increments the recipient's unread counter. Both mutations are single
// upsert statements, so two senders racing on the same pair cannot
// lose an increment.
func (s *Store) BumpConversation(senderID, recipientID, messageID int64, at time.Time) error {
	lo, hi := pairKey(senderID, recipientID)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var convID int64
	if err := tx.QueryRow(s.q(
		`INSERT INTO conversations (user_lo, user_hi, last_message_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_lo, user_hi)
		 DO UPDATE SET last_message_id=excluded.last_message_id, updated_at=excluded.updated_at
		 RETURNING id`),
		lo, hi, messageID, at).Scan(&convID); err != nil {
		return err
	}

	if _, err := tx.Exec(s.q(
		`INSERT INTO conversation_unread (conversation_id, user_id, count)
		 VALUES (?, ?, 1)
		 ON CONFLICT (conversation_id, user_id)
		 DO UPDATE SET count=conversation_unread.count+1`),
		convID, recipientID); err != nil {
		return err
	}

	return tx.Commit()
}

// ConversationPage returns one page of the pair's history ordered
// oldest to newest within the page.
func (s *Store) ConversationPage(userID, peerID int64, page, limit int) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	offset := (page - 1) * limit

	rows, err := s.db.Query(s.q(
		`SELECT id, sender_id, recipient_id, content, media_url, media_type, status, created_at
		 FROM messages
		 WHERE (sender_id=? AND recipient_id=?) OR (sender_id=? AND recipient_id=?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`),
		userID, peerID, peerID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content,
			&m.MediaURL, &m.MediaType, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest page first, oldest first inside it.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkConversationRead bulk-transitions everything the peer sent to
// "read" and zeroes the reader's unread counter.
func (s *Store) MarkConversationRead(userID, peerID int64) error {
	lo, hi := pairKey(userID, peerID)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.q(
		`UPDATE messages SET status=? WHERE sender_id=? AND recipient_id=? AND status<>?`),
		StatusRead, peerID, userID, StatusRead); err != nil {
		return err
	}

	if _, err := tx.Exec(s.q(
		`UPDATE conversation_unread SET count=0
		 WHERE user_id=? AND conversation_id=(SELECT id FROM conversations WHERE user_lo=? AND user_hi=?)`),
		userID, lo, hi); err != nil {
		return err
	}

	return tx.Commit()
}

// MarkMessageRead transitions a single message to "read". The update
// is guarded so a stale call can never regress the status; calling it
// twice is a harmless no-op on the second call.
func (s *Store) MarkMessageRead(id int64) (Message, error) {
	if _, err := s.db.Exec(s.q(
		`UPDATE messages SET status=? WHERE id=? AND status<>?`),
		StatusRead, id, StatusRead); err != nil {
		return Message{}, err
	}
	return s.MessageByID(id)
}

// MarkMessageDelivered records a successful relay push. Guarded on
// "sent" so it never regresses a read message.
func (s *Store) MarkMessageDelivered(id int64) error {
	_, err := s.db.Exec(s.q(
		`UPDATE messages SET status=? WHERE id=? AND status=?`),
		StatusDelivered, id, StatusSent)
	return err
}

func (s *Store) MessageByID(id int64) (Message, error) {
	var m Message
	err := s.db.QueryRow(s.q(
		`SELECT id, sender_id, recipient_id, content, media_url, media_type, status, created_at
		 FROM messages WHERE id=?`), id).
		Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content,
			&m.MediaURL, &m.MediaType, &m.Status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

// UnreadCount reports the user's unread counter for the pair; zero if
// the conversation does not exist yet.
func (s *Store) UnreadCount(userID, peerID int64) (int, error) {
	lo, hi := pairKey(userID, peerID)
	var n int
	err := s.db.QueryRow(s.q(
		`SELECT COALESCE((SELECT cu.count FROM conversation_unread cu
		 JOIN conversations c ON c.id=cu.conversation_id
		 WHERE c.user_lo=? AND c.user_hi=? AND cu.user_id=?), 0)`),
		lo, hi, userID).Scan(&n)
	return n, err
}

func (s *Store) ConversationCount(userID, peerID int64) (int, error) {
	lo, hi := pairKey(userID, peerID)
	var n int
	err := s.db.QueryRow(s.q(
		`SELECT COUNT(1) FROM conversations WHERE user_lo=? AND user_hi=?`), lo, hi).Scan(&n)
	return n, err
}

// ListConversations returns the caller's inbox, most recent first.
func (s *Store) ListConversations(userID int64) ([]ConversationSummary, error) {
	rows, err := s.db.Query(s.q(
		`SELECT c.id, c.updated_at, COALESCE(cu.count, 0),
		        u.id, u.username, u.email, u.avatar, u.last_seen,
		        m.id, m.sender_id, m.recipient_id, m.content, m.media_url, m.media_type, m.status, m.created_at
		 FROM conversations c
		 JOIN users u ON u.id = CASE WHEN c.user_lo=? THEN c.user_hi ELSE c.user_lo END
		 JOIN messages m ON m.id = c.last_message_id
		 LEFT JOIN conversation_unread cu ON cu.conversation_id = c.id AND cu.user_id=?
		 WHERE c.user_lo=? OR c.user_hi=?
		 ORDER BY c.updated_at DESC`),
		userID, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []ConversationSummary
	for rows.Next() {
		var cs ConversationSummary
		var last sql.NullTime
		if err := rows.Scan(&cs.ID, &cs.UpdatedAt, &cs.UnreadCount,
			&cs.Contact.ID, &cs.Contact.Username, &cs.Contact.Email, &cs.Contact.Avatar, &last,
			&cs.LastMessage.ID, &cs.LastMessage.SenderID, &cs.LastMessage.RecipientID,
			&cs.LastMessage.Content, &cs.LastMessage.MediaURL, &cs.LastMessage.MediaType,
			&cs.LastMessage.Status, &cs.LastMessage.CreatedAt); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			cs.Contact.LastSeen = &t
		}
		list = append(list, cs)
	}
	return list, rows.Err()
}
