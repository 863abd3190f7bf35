package testutil

import (
	"time"

	"github.com/wesm/msgdb/internal/store"
)

// MessageBuilder provides a fluent API for constructing store.Message in tests.
type MessageBuilder struct {
	m store.Message
}

// NewMessage creates a builder with sensible defaults.
func NewMessage(sourceID string) *MessageBuilder {
	return &MessageBuilder{
		m: store.Message{
			SourceID: sourceID,
			Subject:  "Test Subject",
			Sender:   "sender@example.com",
			Date:     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func (b *MessageBuilder) WithAccount(id int64) *MessageBuilder {
	b.m.AccountID = id
	return b
}

func (b *MessageBuilder) WithSubject(s string) *MessageBuilder {
	b.m.Subject = s
	return b
}

func (b *MessageBuilder) WithSender(s string) *MessageBuilder {
	b.m.Sender = s
	return b
}

func (b *MessageBuilder) WithDate(t time.Time) *MessageBuilder {
	b.m.Date = t
	return b
}

func (b *MessageBuilder) WithMessageID(id string) *MessageBuilder {
	b.m.MessageIDHeader = id
	return b
}

func (b *MessageBuilder) WithInReplyTo(id string) *MessageBuilder {
	b.m.InReplyTo = id
	return b
}

// WithParent sets an explicit parent gid, bypassing In-Reply-To resolution.
func (b *MessageBuilder) WithParent(gid uint32) *MessageBuilder {
	b.m.ParentID = gid
	return b
}

func (b *MessageBuilder) WithFolder(id uint32) *MessageBuilder {
	b.m.FolderID = id
	return b
}

func (b *MessageBuilder) WithFlags(f store.Flags) *MessageBuilder {
	b.m.Flags = f
	return b
}

func (b *MessageBuilder) WithBody(raw []byte) *MessageBuilder {
	b.m.Body = raw
	return b
}

// Build returns a fresh copy of the message.
func (b *MessageBuilder) Build() *store.Message {
	m := b.m
	return &m
}
