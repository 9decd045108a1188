// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "volute.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateUserAndLookup(t *testing.T) {
	s := newTestStore(t)

	u, err := s.CreateUser("alice", "hash", RoleAdmin, UserTypeBrain)
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	got, err := s.GetUserByUsername("alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, RoleAdmin, got.Role)

	_, err = s.GetUserByUsername("nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateMindUserIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	u1, err := s.GetOrCreateMindUser("planner")
	require.NoError(t, err)
	require.Equal(t, UserTypeMind, u1.UserType)

	u2, err := s.GetOrCreateMindUser("planner")
	require.NoError(t, err)
	require.Equal(t, u1.ID, u2.ID)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	u, err := s.CreateUser("bob", "hash", RoleUser, UserTypeBrain)
	require.NoError(t, err)

	require.NoError(t, s.CreateSession("sess-1", u.ID))

	got, err := s.GetSessionUser("sess-1")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	require.NoError(t, s.DeleteSession("sess-1"))
	_, err = s.GetSessionUser("sess-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateConversationReusesDM(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateUser("alice", "h", RoleUser, UserTypeBrain)
	require.NoError(t, err)
	m, err := s.GetOrCreateMindUser("planner")
	require.NoError(t, err)

	first, err := s.GetOrCreateConversation("planner", "cli", []int64{a.ID, m.ID})
	require.NoError(t, err)
	require.Equal(t, ConversationDM, first.Type)

	second, err := s.GetOrCreateConversation("planner", "cli", []int64{a.ID, m.ID})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "same pair/channel must reuse the existing DM")
}

func TestGetOrCreateConversationDistinctChannels(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateUser("alice", "h", RoleUser, UserTypeBrain)
	require.NoError(t, err)
	m, err := s.GetOrCreateMindUser("planner")
	require.NoError(t, err)

	first, err := s.GetOrCreateConversation("planner", "cli", []int64{a.ID, m.ID})
	require.NoError(t, err)
	second, err := s.GetOrCreateConversation("planner", "slack", []int64{a.ID, m.ID})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID, "different channels must not share a DM")
}

func TestAddMessageSetsTitleFromFirstUserText(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateUser("alice", "h", RoleUser, UserTypeBrain)
	require.NoError(t, err)
	m, err := s.GetOrCreateMindUser("planner")
	require.NoError(t, err)
	conv, err := s.GetOrCreateConversation("planner", "cli", []int64{a.ID, m.ID})
	require.NoError(t, err)

	long := strings.Repeat("a", 200)
	content, err := json.Marshal([]ContentBlock{{Type: ContentText, Text: long}})
	require.NoError(t, err)

	sender := "alice"
	_, err = s.AddMessage(conv.ID, MessageRoleUser, &sender, content)
	require.NoError(t, err)

	got, err := s.GetConversation(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Title)
	require.Len(t, *got.Title, titleMaxLen)
	require.Equal(t, long[:titleMaxLen], *got.Title)
}

func TestAddMessageDoesNotOverwriteExistingTitle(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateUser("alice", "h", RoleUser, UserTypeBrain)
	require.NoError(t, err)
	m, err := s.GetOrCreateMindUser("planner")
	require.NoError(t, err)
	conv, err := s.GetOrCreateConversation("planner", "cli", []int64{a.ID, m.ID})
	require.NoError(t, err)

	sender := "alice"
	first, err := json.Marshal([]ContentBlock{{Type: ContentText, Text: "first message"}})
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, MessageRoleUser, &sender, first)
	require.NoError(t, err)

	second, err := json.Marshal([]ContentBlock{{Type: ContentText, Text: "second message"}})
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, MessageRoleUser, &sender, second)
	require.NoError(t, err)

	got, err := s.GetConversation(conv.ID)
	require.NoError(t, err)
	require.Equal(t, "first message", *got.Title)
}

func TestMessagesOrderedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateUser("alice", "h", RoleUser, UserTypeBrain)
	require.NoError(t, err)
	m, err := s.GetOrCreateMindUser("planner")
	require.NoError(t, err)
	conv, err := s.GetOrCreateConversation("planner", "cli", []int64{a.ID, m.ID})
	require.NoError(t, err)

	sender := "alice"
	for _, text := range []string{"one", "two", "three"} {
		content, err := json.Marshal([]ContentBlock{{Type: ContentText, Text: text}})
		require.NoError(t, err)
		_, err = s.AddMessage(conv.ID, MessageRoleUser, &sender, content)
		require.NoError(t, err)
	}

	msgs, err := s.Messages(conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	var blocks []ContentBlock
	require.NoError(t, json.Unmarshal(msgs[0].Content, &blocks))
	require.Equal(t, "one", blocks[0].Text)
	require.NoError(t, json.Unmarshal(msgs[2].Content, &blocks))
	require.Equal(t, "three", blocks[0].Text)
}

func TestChannelCreateJoinLeave(t *testing.T) {
	s := newTestStore(t)
	owner, err := s.CreateUser("owner", "h", RoleAdmin, UserTypeBrain)
	require.NoError(t, err)
	member, err := s.CreateUser("carol", "h", RoleUser, UserTypeBrain)
	require.NoError(t, err)

	ch, err := s.CreateChannel("planner", "general", owner.ID)
	require.NoError(t, err)
	require.Equal(t, ConversationChannel, ch.Type)

	require.NoError(t, s.JoinChannel("general", member.ID))
	parts, err := s.Participants(ch.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	require.NoError(t, s.LeaveChannel("general", member.ID))
	parts, err = s.Participants(ch.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)

	err = s.JoinChannel("nonexistent", member.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveryQueueLifecycle(t *testing.T) {
	s := newTestStore(t)

	e, err := s.EnqueueDelivery("planner", "sess-1", "cli", "alice", []byte(`{"text":"hi"}`))
	require.NoError(t, err)

	pending, err := s.PendingDeliveries("planner")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, e.ID, pending[0].ID)

	require.NoError(t, s.MarkDelivered(e.ID))

	pending, err = s.PendingDeliveries("planner")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestActivityEventsFilterByMind(t *testing.T) {
	s := newTestStore(t)

	planner := "planner"
	other := "other"
	_, err := s.RecordActivityEvent(EventMindStarted, &planner, "planner started", nil)
	require.NoError(t, err)
	_, err = s.RecordActivityEvent(EventMindStarted, &other, "other started", nil)
	require.NoError(t, err)

	events, err := s.ActivityEvents(&planner, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "planner started", events[0].Summary)

	all, err := s.ActivityEvents(nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMindHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	e, err := s.RecordHistory(HistoryEntry{
		Mind:    "planner",
		Channel: "cli",
		Type:    HistoryInbound,
		Content: []byte(`{"text":"hello"}`),
	})
	require.NoError(t, err)
	require.NotZero(t, e.ID)

	hist, err := s.History("planner", "cli", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, HistoryInbound, hist[0].Type)
}
