// Package store is the single source of truth for the message log and the
// task queue. It is the only place allowed to perform the atomic task claim;
// every other operation may race freely because messages are immutable.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/immanencer/ratimint/internal/relay"
)

var (
	ErrMissingFields = errors.New("store: missing required fields")
	ErrInvalidStatus = errors.New("store: invalid task status")
	ErrTaskNotFound  = errors.New("store: task not found")
	ErrTaskFinal     = errors.New("store: task already in a terminal state")
)

type Store struct {
	db *sqlx.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", "file:"+dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`create table if not exists messages(
		id          integer primary key autoincrement,
		channel     text not null,
		author      text not null default '',
		text        text not null default '',
		media_url   text not null default '',
		time        integer not null,
		destination text not null default 'private'
	)`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}

	_, err = s.db.Exec(`create index if not exists idx_messages_channel_time
		on messages(channel, time desc, id desc)`)
	if err != nil {
		return fmt.Errorf("creating messages index: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists tasks(
		id            text not null primary key,
		type          text not null,
		channel_id    text not null,
		response_text text not null,
		context       text not null default '',
		status        text not null default 'pending',
		created_at    integer not null
	)`)
	if err != nil {
		return fmt.Errorf("creating tasks table: %w", err)
	}

	_, err = s.db.Exec(`create index if not exists idx_tasks_type_status
		on tasks(type, status, created_at)`)
	if err != nil {
		return fmt.Errorf("creating tasks index: %w", err)
	}

	return nil
}

// AppendMessage inserts one conversation turn. Duplicate content is legal;
// only the channel is required. A missing time is assigned from the clock.
func (s *Store) AppendMessage(ctx context.Context, msg relay.Message) error {
	if msg.Channel == "" {
		return fmt.Errorf("%w: channel", ErrMissingFields)
	}
	if msg.Time == 0 {
		msg.Time = time.Now().Unix()
	}
	if msg.Destination == "" {
		msg.Destination = "private"
	}

	_, err := s.db.ExecContext(ctx, `insert into messages
		(channel, author, text, media_url, time, destination)
		values (?, ?, ?, ?, ?, ?)`,
		msg.Channel, msg.Author, msg.Text, msg.MediaURL, msg.Time, msg.Destination)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages of a channel in
// chronological order, oldest first. The fetch is reverse-time sorted and
// re-reversed so callers always see forward-chronological output.
func (s *Store) RecentMessages(ctx context.Context, channel string, limit, skip int) ([]relay.Message, error) {
	if limit <= 0 {
		limit = 8
	}

	msgs := []relay.Message{}
	err := s.db.SelectContext(ctx, &msgs, `select id, channel, author, text, media_url, time, destination
		from messages where channel = ?
		order by time desc, id desc limit ? offset ?`, channel, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LatestPerChannel returns exactly one message per distinct channel, the most
// recent by time with insertion order breaking ties. Single pass over the log.
func (s *Store) LatestPerChannel(ctx context.Context) ([]relay.Message, error) {
	msgs := []relay.Message{}
	err := s.db.SelectContext(ctx, &msgs, `select id, channel, author, text, media_url, time, destination
		from messages where id in (
			select id from (
				select id, row_number() over (partition by channel order by time desc, id desc) as rn
				from messages
			) where rn = 1
		)
		order by channel`)
	if err != nil {
		return nil, fmt.Errorf("fetching latest per channel: %w", err)
	}
	return msgs, nil
}

// EnqueueTask inserts a new pending task. Whatever status the caller set is
// discarded; tasks are born pending.
func (s *Store) EnqueueTask(ctx context.Context, task relay.Task) (relay.Task, error) {
	if task.Type == "" || task.ChannelID == "" || task.ResponseText == "" {
		return relay.Task{}, fmt.Errorf("%w: type, channelId and responseText", ErrMissingFields)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().Unix()
	}
	task.Status = relay.TaskPending

	contextJSON := ""
	if len(task.Context) > 0 {
		data, err := json.Marshal(task.Context)
		if err != nil {
			return relay.Task{}, fmt.Errorf("marshal task context: %w", err)
		}
		contextJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `insert into tasks
		(id, type, channel_id, response_text, context, status, created_at)
		values (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Type, task.ChannelID, task.ResponseText, contextJSON, task.Status, task.CreatedAt)
	if err != nil {
		return relay.Task{}, fmt.Errorf("inserting task: %w", err)
	}
	return task, nil
}

type taskRow struct {
	relay.Task
	ContextJSON string `db:"context"`
}

func (r taskRow) toTask() (relay.Task, error) {
	task := r.Task
	if r.ContextJSON != "" {
		if err := json.Unmarshal([]byte(r.ContextJSON), &task.Context); err != nil {
			return relay.Task{}, fmt.Errorf("unmarshal task context: %w", err)
		}
	}
	return task, nil
}

// ClaimNextTask atomically selects the oldest pending task of the given type
// and marks it running. Returns (nil, nil) when nothing is pending. The
// single UPDATE statement is the only concurrency-safety mechanism in the
// whole system: two concurrent claimers can never receive the same task.
func (s *Store) ClaimNextTask(ctx context.Context, taskType string) (*relay.Task, error) {
	row := taskRow{}
	err := s.db.GetContext(ctx, &row, `update tasks set status = 'running'
		where id = (
			select id from tasks where type = ? and status = 'pending'
			order by created_at, id limit 1
		) and status = 'pending'
		returning id, type, channel_id, response_text, context, status, created_at`, taskType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}

	task, err := row.toTask()
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// SetTaskStatus transitions a claimed task. Terminal states are final: the
// update is guarded so a handled or failed task is never touched again.
func (s *Store) SetTaskStatus(ctx context.Context, taskID string, status relay.TaskStatus) error {
	if taskID == "" {
		return fmt.Errorf("%w: taskId", ErrMissingFields)
	}
	if !status.ValidTarget() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	res, err := s.db.ExecContext(ctx, `update tasks set status = ?
		where id = ? and status not in ('handled', 'failed')`, status, taskID)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	if err := s.db.GetContext(ctx, &exists, `select count(1) from tasks where id = ?`, taskID); err != nil {
		return fmt.Errorf("checking task: %w", err)
	}
	if exists == 0 {
		return ErrTaskNotFound
	}
	return ErrTaskFinal
}
