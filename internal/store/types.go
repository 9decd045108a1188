// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import "time"

// Role of a user account.
type Role string

const (
	RolePending Role = "pending"
	RoleAdmin   Role = "admin"
	RoleUser    Role = "user"
)

// UserType distinguishes a human operator from a mind's own auto-created
// user record (used as a message sender identity).
type UserType string

const (
	UserTypeBrain UserType = "brain"
	UserTypeMind  UserType = "mind"
)

// User is an account the daemon authenticates.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	UserType     UserType
	CreatedAt    time.Time
}

// ConversationType distinguishes a 1:1 DM, an ad hoc group, or a named
// channel.
type ConversationType string

const (
	ConversationDM      ConversationType = "dm"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

// Conversation is a persistent, UUID-keyed thread.
type Conversation struct {
	ID        string
	MindName  *string
	Channel   string
	Type      ConversationType
	Name      *string
	Title     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParticipantRole within a conversation.
type ParticipantRole string

const (
	ParticipantOwner  ParticipantRole = "owner"
	ParticipantMember ParticipantRole = "member"
)

// MessageRole of a persisted message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Message is one persisted turn in a conversation. Content is the raw
// JSON array of content blocks (ContentBlock variants), stored as-is.
type Message struct {
	ID             int64
	ConversationID string
	Role           MessageRole
	SenderName     *string
	Content        []byte // JSON array of content blocks
	CreatedAt      time.Time
}

// DeliveryStatus of a queued delivery-queue entry.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryEntry is a persistent replay queue entry for an offline mind.
type DeliveryEntry struct {
	ID        int64
	Mind      string
	Session   string
	Channel   string
	Sender    string
	Status    DeliveryStatus
	Payload   []byte
	CreatedAt time.Time
}

// ActivityEventType names the kinds of activity events persisted and
// broadcast over SSE.
type ActivityEventType string

const (
	EventMindStarted ActivityEventType = "mind_started"
	EventMindStopped ActivityEventType = "mind_stopped"
	EventMindActive  ActivityEventType = "mind_active"
	EventMindIdle    ActivityEventType = "mind_idle"
	EventMindDone    ActivityEventType = "mind_done"
	EventPageUpdated ActivityEventType = "page_updated"
)

// ActivityEvent is a persisted+broadcast daemon event.
type ActivityEvent struct {
	ID        int64
	Type      ActivityEventType
	Mind      *string
	Summary   string
	Metadata  []byte
	CreatedAt time.Time
}

// ContentBlock is one element of a Message's content array. Exactly one
// of the typed fields is populated, selected by Type.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ToolName  string          `json:"name,omitempty"`
	ToolInput map[string]any  `json:"input,omitempty"`

	ToolOutput string `json:"output,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"` // base64
}

const (
	ContentText       = "text"
	ContentToolUse    = "tool_use"
	ContentToolResult = "tool_result"
	ContentImage      = "image"
)
