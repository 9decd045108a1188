// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateConversation inserts a new conversation and, inside the same
// transaction, its initial participants. type=channel requires a
// non-null, unique name (enforced by the UNIQUE constraint on
// conversations.name).
func (s *Store) CreateConversation(mindName *string, channel string, convType ConversationType, name *string, participantUserIDs []int64) (Conversation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	c := Conversation{
		ID:        uuid.NewString(),
		MindName:  mindName,
		Channel:   channel,
		Type:      convType,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.Exec(
		`INSERT INTO conversations (id, mind_name, channel, type, name, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		c.ID, c.MindName, c.Channel, string(c.Type), c.Name, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	for _, uid := range participantUserIDs {
		if _, err := tx.Exec(
			`INSERT INTO participants (conversation_id, user_id, role) VALUES (?, ?, ?)`,
			c.ID, uid, string(ParticipantMember),
		); err != nil {
			return Conversation{}, fmt.Errorf("add participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// FindDMConversation returns an existing DM between mind and the two
// participants on channel, if one exists, for reuse instead of creating
// a duplicate thread.
func (s *Store) FindDMConversation(mind, channel string, userA, userB int64) (Conversation, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.mind_name, c.channel, c.type, c.name, c.title, c.created_at, c.updated_at
		FROM conversations c
		WHERE c.type = 'dm' AND c.channel = ? AND c.mind_name = ?
		  AND (SELECT COUNT(*) FROM participants p WHERE p.conversation_id = c.id) = 2
		  AND EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = c.id AND p.user_id = ?)
		  AND EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = c.id AND p.user_id = ?)
	`, channel, mind, userA, userB)
	if err != nil {
		return Conversation{}, fmt.Errorf("find dm conversation: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		return scanConversationRow(rows)
	}
	return Conversation{}, ErrNotFound
}

// GetOrCreateConversation returns the existing DM-type conversation for
// (mind, channel) or creates one, per spec.md §4.2.
func (s *Store) GetOrCreateConversation(mind, channel string, participantUserIDs []int64) (Conversation, error) {
	if len(participantUserIDs) == 2 {
		if c, err := s.FindDMConversation(mind, channel, participantUserIDs[0], participantUserIDs[1]); err == nil {
			return c, nil
		} else if !errors.Is(err, ErrNotFound) {
			return Conversation{}, err
		}
	}
	convType := ConversationGroup
	if len(participantUserIDs) == 2 {
		convType = ConversationDM
	}
	m := mind
	return s.CreateConversation(&m, channel, convType, nil, participantUserIDs)
}

// GetConversation fetches a conversation by ID.
func (s *Store) GetConversation(id string) (Conversation, error) {
	return scanConversation(s.db.QueryRow(
		`SELECT id, mind_name, channel, type, name, title, created_at, updated_at FROM conversations WHERE id = ?`, id))
}

// titleMaxLen caps the auto-derived conversation title (spec.md §8
// round-trip law: truncation to 80 chars from first message).
const titleMaxLen = 80

// AddMessage appends a message to conversationID, updates updated_at,
// and — if the conversation has no title yet and this is a user-role
// message — sets the title from its first text content block, truncated
// to titleMaxLen. Returns the inserted message. Callers are responsible
// for publishing the resulting SSE "message" event.
func (s *Store) AddMessage(conversationID string, role MessageRole, senderName *string, content []byte) (Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, fmt.Errorf("add message: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(
		`INSERT INTO messages (conversation_id, role, sender_name, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(role), senderName, string(content), fmtTime(now),
	)
	if err != nil {
		return Message{}, fmt.Errorf("add message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("add message: %w", err)
	}

	if role == MessageRoleUser {
		var title sql.NullString
		if err := tx.QueryRow(`SELECT title FROM conversations WHERE id = ?`, conversationID).Scan(&title); err == nil && !title.Valid {
			if derived := firstTextBlock(content); derived != "" {
				if len(derived) > titleMaxLen {
					derived = derived[:titleMaxLen]
				}
				if _, err := tx.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, derived, conversationID); err != nil {
					return Message{}, fmt.Errorf("set conversation title: %w", err)
				}
			}
		}
	}

	if _, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, fmtTime(now), conversationID); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("add message: %w", err)
	}

	return Message{ID: id, ConversationID: conversationID, Role: role, SenderName: senderName, Content: content, CreatedAt: now}, nil
}

// Messages returns every message in a conversation, oldest first.
func (s *Store) Messages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, sender_name, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var senderName sql.NullString
		var content, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &senderName, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if senderName.Valid {
			v := senderName.String
			m.SenderName = &v
		}
		m.Content = []byte(content)
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanConversationRow(rows *sql.Rows) (Conversation, error) {
	var c Conversation
	var mindName, name, title sql.NullString
	var convType, createdAt, updatedAt string
	if err := rows.Scan(&c.ID, &mindName, &c.Channel, &convType, &name, &title, &createdAt, &updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	return finishConversation(c, mindName, name, title, convType, createdAt, updatedAt), nil
}

func scanConversation(row *sql.Row) (Conversation, error) {
	var c Conversation
	var mindName, name, title sql.NullString
	var convType, createdAt, updatedAt string
	if err := row.Scan(&c.ID, &mindName, &c.Channel, &convType, &name, &title, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	return finishConversation(c, mindName, name, title, convType, createdAt, updatedAt), nil
}

func finishConversation(c Conversation, mindName, name, title sql.NullString, convType, createdAt, updatedAt string) Conversation {
	if mindName.Valid {
		v := mindName.String
		c.MindName = &v
	}
	if name.Valid {
		v := name.String
		c.Name = &v
	}
	if title.Valid {
		v := title.String
		c.Title = &v
	}
	c.Type = ConversationType(convType)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return c
}

func fmtTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func firstTextBlock(content []byte) string {
	var blocks []ContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return ""
	}
	for _, b := range blocks {
		if b.Type == ContentText && b.Text != "" {
			return b.Text
		}
	}
	return ""
}
