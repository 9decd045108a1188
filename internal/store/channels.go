// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateName is returned by CreateChannel when name is already
// taken by another channel.
var ErrDuplicateName = errors.New("store: channel name already exists")

// CreateChannel creates a named, persistent multi-participant
// conversation of type=channel. name must be unique across channels.
func (s *Store) CreateChannel(mindName, name string, creatorUserID int64) (Conversation, error) {
	m := mindName
	n := name
	c, err := s.CreateConversation(&m, name, ConversationChannel, &n, []int64{creatorUserID})
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return Conversation{}, ErrDuplicateName
	}
	return c, err
}

// GetChannelByName looks up a channel conversation by its unique name.
func (s *Store) GetChannelByName(name string) (Conversation, error) {
	return scanConversation(s.db.QueryRow(
		`SELECT id, mind_name, channel, type, name, title, created_at, updated_at FROM conversations WHERE type = 'channel' AND name = ?`,
		name))
}

// ListChannels returns every channel conversation for a mind.
func (s *Store) ListChannels(mindName string) ([]Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, mind_name, channel, type, name, title, created_at, updated_at FROM conversations WHERE type = 'channel' AND mind_name = ? ORDER BY created_at ASC`,
		mindName)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
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

// JoinChannel adds userID to a named channel.
func (s *Store) JoinChannel(name string, userID int64) error {
	c, err := s.GetChannelByName(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("join channel %q: %w", name, err)
		}
		return err
	}
	return s.AddParticipant(c.ID, userID, ParticipantMember)
}

// LeaveChannel removes userID from a named channel.
func (s *Store) LeaveChannel(name string, userID int64) error {
	c, err := s.GetChannelByName(name)
	if err != nil {
		return err
	}
	return s.RemoveParticipant(c.ID, userID)
}
