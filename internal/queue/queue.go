// Package queue moves work items between dispatchers and workers over
// named channels. Delivery is at-least-once: a worker that dies mid-item
// leaves the item to be re-enqueued, so consumers must tolerate seeing the
// same item token twice.
package queue

import (
	"context"
	"errors"

	"record-import-pipeline/internal/domain"
)

// Channel names, one per job type that fans out work items.
const (
	ChannelValidate = "validate_import"
	ChannelCommit   = "commit_import"
	ChannelXML      = "xml_import"
	ChannelRebuild  = "rebuild_derived_artifact"
	ChannelRewarm   = "rewarm_cache"
)

// AllChannels lists every channel a worker consumes.
var AllChannels = []string{
	ChannelValidate,
	ChannelCommit,
	ChannelXML,
	ChannelRebuild,
	ChannelRewarm,
}

// ErrClosed is returned by Dequeue after the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is the transport between dispatchers and workers.
type Queue interface {
	// Enqueue publishes one work item on a channel.
	Enqueue(ctx context.Context, channel string, item *domain.WorkItem) error

	// Dequeue blocks until an item is available on any of the given
	// channels, the context is cancelled, or the queue is closed. It
	// returns the item and the channel it arrived on.
	Dequeue(ctx context.Context, channels []string) (*domain.WorkItem, string, error)

	// Depth reports how many items are waiting on a channel.
	Depth(ctx context.Context, channel string) (int64, error)
}
