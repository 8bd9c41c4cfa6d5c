// Package channel bridges external conversation surfaces and the store:
// inbound turns are appended to the message log, outbound tasks are claimed
// and delivered. The two paths are independent loops.
package channel

import (
	"context"

	"github.com/immanencer/ratimint/internal/relay"
)

// Store is the slice of the store surface a listener needs.
type Store interface {
	AppendMessage(ctx context.Context, msg relay.Message) error
	EnqueueTask(ctx context.Context, task relay.Task) error
	ClaimNextTask(ctx context.Context, taskType string) (*relay.Task, error)
	SetTaskStatus(ctx context.Context, taskID string, status relay.TaskStatus) error
}

// Uploader stores a downloaded attachment and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, filePath string) (string, error)
	TmpPath(name string) string
}

type Channel interface {
	Name() string
	// Start begins consuming inbound events. It must not block.
	Start(ctx context.Context) error
	Stop() error
	// Deliver sends one claimed task's response to its target conversation.
	Deliver(task relay.Task) error
}

type BaseChannel struct {
	name      string
	store     Store
	allowFrom []string
}

func NewBaseChannel(name string, store Store, allowFrom []string) BaseChannel {
	return BaseChannel{name: name, store: store, allowFrom: allowFrom}
}

func (b *BaseChannel) Name() string {
	return b.name
}

// IsAllowed applies the sender allow-list. An empty list allows everyone.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	for _, id := range b.allowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}
