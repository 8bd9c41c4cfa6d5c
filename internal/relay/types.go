// Package relay defines the wire types shared by the store service and the
// processes that poll it: the append-only message log and the task queue.
package relay

// Message is one conversation turn. Messages are immutable once stored;
// ordering within a channel is by Time, ties broken by insertion order.
type Message struct {
	ID          int64  `db:"id" json:"-"`
	Channel     string `db:"channel" json:"channel"`
	Author      string `db:"author" json:"author,omitempty"`
	Text        string `db:"text" json:"text"`
	MediaURL    string `db:"media_url" json:"imageUrl,omitempty"`
	Time        int64  `db:"time" json:"time,omitempty"`
	Destination string `db:"destination" json:"to,omitempty"`
}

// SelfAuthored reports whether the message was produced by the bot itself.
// An empty author also counts as self-authored: only the responder logs
// messages without an author.
func (m Message) SelfAuthored(handle string) bool {
	return m.Author == "" || m.Author == handle
}

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskHandled TaskStatus = "handled"
	TaskFailed  TaskStatus = "failed"
)

// ValidTarget reports whether s is an acceptable target for a status update.
// Tasks are only ever created as pending, so pending is not a valid target.
func (s TaskStatus) ValidTarget() bool {
	switch s {
	case TaskRunning, TaskHandled, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. No transition leaves a
// terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskHandled || s == TaskFailed
}

// Task is a unit of outbound work: a reply waiting to be delivered to a
// channel by the listener that owns the task's type.
type Task struct {
	ID           string     `db:"id" json:"taskId,omitempty"`
	Type         string     `db:"type" json:"type"`
	ChannelID    string     `db:"channel_id" json:"channelId"`
	ResponseText string     `db:"response_text" json:"responseText"`
	Status       TaskStatus `db:"status" json:"status,omitempty"`
	CreatedAt    int64      `db:"created_at" json:"createdAt,omitempty"`
	// Context is the conversation window the response was produced from,
	// kept for audit only. It is never reprocessed.
	Context []Message `db:"-" json:"context,omitempty"`
}

// StatusUpdate is the body of PUT /task.
type StatusUpdate struct {
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
}
