// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import "fmt"

// Participant is one user's membership row in a conversation.
type Participant struct {
	ConversationID string
	UserID         int64
	Role           ParticipantRole
}

// AddParticipant adds userID to conversationID with the given role. It
// is a no-op (not an error) if the participant already exists.
func (s *Store) AddParticipant(conversationID string, userID int64, role ParticipantRole) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO participants (conversation_id, user_id, role) VALUES (?, ?, ?)`,
		conversationID, userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// RemoveParticipant removes userID from conversationID.
func (s *Store) RemoveParticipant(conversationID string, userID int64) error {
	_, err := s.db.Exec(
		`DELETE FROM participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

// Participants lists every participant of a conversation.
func (s *Store) Participants(conversationID string) ([]Participant, error) {
	rows, err := s.db.Query(
		`SELECT conversation_id, user_id, role FROM participants WHERE conversation_id = ?`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		var role string
		if err := rows.Scan(&p.ConversationID, &p.UserID, &role); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Role = ParticipantRole(role)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Conversations lists every conversation userID participates in, most
// recently updated first.
func (s *Store) Conversations(userID int64) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.mind_name, c.channel, c.type, c.name, c.title, c.created_at, c.updated_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
