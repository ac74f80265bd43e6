// Package events publishes notifications about committed content.
package events

import (
	"context"
	"time"
)

// ContentCommitted is emitted after a content record was written.
type ContentCommitted struct {
	RecordID  string    `json:"record_id"`
	Type      string    `json:"type"`
	OwnerID   string    `json:"owner_id"`
	Status    string    `json:"status"`
	MediaRef  string    `json:"media_ref,omitempty"`
	Showcase  bool      `json:"showcase"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher delivers notifications. Delivery is best effort.
type Publisher interface {
	PublishContentCommitted(ctx context.Context, ev ContentCommitted) error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// PublishContentCommitted does nothing.
func (NoopPublisher) PublishContentCommitted(context.Context, ContentCommitted) error {
	return nil
}
