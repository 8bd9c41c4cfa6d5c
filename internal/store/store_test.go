package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immanencer/ratimint/internal/relay"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendMessage_RequiresChannel(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendMessage(context.Background(), relay.Message{Text: "hi"})
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestAppendMessage_AssignsTimeAndDestination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, relay.Message{Channel: "42", Author: "alice", Text: "hi"}))

	msgs, err := s.RecentMessages(ctx, "42", 8, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Greater(t, msgs[0].Time, int64(0))
	assert.Equal(t, "private", msgs[0].Destination)
}

func TestRecentMessages_ChronologicalWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, text := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, s.AppendMessage(ctx, relay.Message{
			Channel: "42", Author: "alice", Text: text, Time: int64(10 + i),
		}))
	}

	msgs, err := s.RecentMessages(ctx, "42", 3, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[0].Text)
	assert.Equal(t, "four", msgs[1].Text)
	assert.Equal(t, "five", msgs[2].Text)
	for i := 1; i < len(msgs); i++ {
		assert.GreaterOrEqual(t, msgs[i].Time, msgs[i-1].Time)
	}
}

func TestRecentMessages_TiesKeepInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, relay.Message{Channel: "42", Author: "a", Text: "first", Time: 10}))
	require.NoError(t, s.AppendMessage(ctx, relay.Message{Channel: "42", Author: "b", Text: "second", Time: 10}))

	msgs, err := s.RecentMessages(ctx, "42", 8, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)
}

func TestRecentMessages_DuplicatesAreLegal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.AppendMessage(ctx, relay.Message{Channel: "42", Author: "alice", Text: "ping", Time: 10}))
	}

	msgs, err := s.RecentMessages(ctx, "42", 8, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestLatestPerChannel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Interleave two channels.
	require.NoError(t, s.AppendMessage(ctx, relay.Message{Channel: "A", Author: "alice", Text: "a1", Time: 10}))
	require.NoError(t, s.AppendMessage(ctx, relay.Message{Channel: "B", Author: "bob", Text: "b1", Time: 11}))
	require.NoError(t, s.AppendMessage(ctx, relay.Message{Channel: "A", Author: "alice", Text: "a2", Time: 12}))
	require.NoError(t, s.AppendMessage(ctx, relay.Message{Channel: "B", Author: "bob", Text: "b2", Time: 9}))

	latest, err := s.LatestPerChannel(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	byChannel := map[string]relay.Message{}
	for _, msg := range latest {
		byChannel[msg.Channel] = msg
	}
	assert.Equal(t, "a2", byChannel["A"].Text)
	assert.Equal(t, "b1", byChannel["B"].Text)
}

func TestEnqueueTask_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnqueueTask(ctx, relay.Task{Type: "telegram", ChannelID: "42"})
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = s.EnqueueTask(ctx, relay.Task{ChannelID: "42", ResponseText: "hello"})
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestEnqueueTask_BornPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.EnqueueTask(ctx, relay.Task{
		Type: "telegram", ChannelID: "42", ResponseText: "hello",
		Status: relay.TaskHandled, // caller-set status is discarded
	})
	require.NoError(t, err)
	assert.Equal(t, relay.TaskPending, task.Status)
	assert.NotEmpty(t, task.ID)
	assert.Greater(t, task.CreatedAt, int64(0))
}

func TestClaimNextTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnqueueTask(ctx, relay.Task{Type: "telegram", ChannelID: "42", ResponseText: "hello"})
	require.NoError(t, err)

	none, err := s.ClaimNextTask(ctx, "discord")
	require.NoError(t, err)
	assert.Nil(t, none, "claim of a different type must return none")

	task, err := s.ClaimNextTask(ctx, "telegram")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, relay.TaskRunning, task.Status)
	assert.Equal(t, "42", task.ChannelID)
	assert.Equal(t, "hello", task.ResponseText)

	again, err := s.ClaimNextTask(ctx, "telegram")
	require.NoError(t, err)
	assert.Nil(t, again, "a claimed task must not be claimable again")
}

func TestClaimNextTask_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnqueueTask(ctx, relay.Task{Type: "telegram", ChannelID: "1", ResponseText: "first", CreatedAt: 100})
	require.NoError(t, err)
	_, err = s.EnqueueTask(ctx, relay.Task{Type: "telegram", ChannelID: "2", ResponseText: "second", CreatedAt: 200})
	require.NoError(t, err)

	task, err := s.ClaimNextTask(ctx, "telegram")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "first", task.ResponseText)
}

func TestClaimNextTask_ExactlyOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnqueueTask(ctx, relay.Task{Type: "telegram", ChannelID: "42", ResponseText: "hello"})
	require.NoError(t, err)

	const claimers = 16
	var wg sync.WaitGroup
	results := make(chan *relay.Task, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := s.ClaimNextTask(ctx, "telegram")
			assert.NoError(t, err)
			results <- task
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for task := range results {
		if task != nil {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one claimer must receive the task")
}

func TestSetTaskStatus_TerminalIsFinal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	queued, err := s.EnqueueTask(ctx, relay.Task{Type: "telegram", ChannelID: "42", ResponseText: "hello"})
	require.NoError(t, err)

	task, err := s.ClaimNextTask(ctx, "telegram")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, queued.ID, task.ID)

	require.NoError(t, s.SetTaskStatus(ctx, task.ID, relay.TaskHandled))

	err = s.SetTaskStatus(ctx, task.ID, relay.TaskFailed)
	assert.ErrorIs(t, err, ErrTaskFinal)

	err = s.SetTaskStatus(ctx, task.ID, relay.TaskRunning)
	assert.ErrorIs(t, err, ErrTaskFinal)
}

func TestSetTaskStatus_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SetTaskStatus(ctx, "some-id", relay.TaskPending)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	err = s.SetTaskStatus(ctx, "some-id", relay.TaskStatus("done"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	err = s.SetTaskStatus(ctx, "missing", relay.TaskHandled)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	err = s.SetTaskStatus(ctx, "", relay.TaskHandled)
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestFailedTaskIsNotRedelivered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnqueueTask(ctx, relay.Task{Type: "telegram", ChannelID: "42", ResponseText: "hello"})
	require.NoError(t, err)

	task, err := s.ClaimNextTask(ctx, "telegram")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, s.SetTaskStatus(ctx, task.ID, relay.TaskFailed))

	again, err := s.ClaimNextTask(ctx, "telegram")
	require.NoError(t, err)
	assert.Nil(t, again, "a failed task is terminal and never re-queued")
}

func TestTaskContextRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	window := []relay.Message{
		{Channel: "42", Author: "alice", Text: "hi", Time: 10},
		{Channel: "42", Text: "hello alice", Time: 11},
	}
	_, err := s.EnqueueTask(ctx, relay.Task{
		Type: "telegram", ChannelID: "42", ResponseText: "hello", Context: window,
	})
	require.NoError(t, err)

	task, err := s.ClaimNextTask(ctx, "telegram")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Len(t, task.Context, 2)
	assert.Equal(t, "alice", task.Context[0].Author)
	assert.Equal(t, "hello alice", task.Context[1].Text)
}
