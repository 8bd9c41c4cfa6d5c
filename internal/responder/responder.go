// Package responder turns unconsumed conversation turns into replies. It
// polls the message log, builds a bounded context window per channel, asks
// the model for a reply and hands delivery off to the task queue. It never
// reacts to its own replies.
package responder

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/immanencer/ratimint/internal/config"
	"github.com/immanencer/ratimint/internal/relay"
)

const (
	completionTimeout = 60 * time.Second

	fallbackReply = "Sorry, I couldn't generate a response at the moment."

	reviewInstruction = "Briefly describe and critique this artwork, relying on your incisive wit and trademark sarcasm."
)

// Store is the slice of the store surface the responder needs.
type Store interface {
	LatestPerChannel(ctx context.Context) ([]relay.Message, error)
	RecentMessages(ctx context.Context, channel string, limit int) ([]relay.Message, error)
	EnqueueTask(ctx context.Context, task relay.Task) error
	AppendMessage(ctx context.Context, msg relay.Message) error
}

type Responder struct {
	store        Store
	llm          Completer
	handle       string
	taskType     string
	system       string
	interval     time.Duration
	contextLimit int

	// seen maps channel id to the time of the last message reacted to.
	// Keyed per channel so a quiet channel is never starved by a busy one.
	// Advanced only after a successful enqueue+append, so a failed cycle
	// leaves the channel eligible for reprocessing (at-least-once).
	seen map[string]int64
}

func New(store Store, llm Completer, cfg config.ResponderConfig) (*Responder, error) {
	system, err := loadSystemPrompt(cfg)
	if err != nil {
		return nil, err
	}

	return &Responder{
		store:        store,
		llm:          llm,
		handle:       cfg.Handle,
		taskType:     cfg.TaskType,
		system:       system,
		interval:     time.Duration(cfg.PollSeconds) * time.Second,
		contextLimit: cfg.ContextLimit,
		seen:         make(map[string]int64),
	}, nil
}

func loadSystemPrompt(cfg config.ResponderConfig) (string, error) {
	if cfg.SystemPromptPath != "" {
		data, err := os.ReadFile(cfg.SystemPromptPath)
		if err != nil {
			return "", fmt.Errorf("read system prompt: %w", err)
		}
		return string(data), nil
	}
	return fmt.Sprintf("You are %s, a witty chat companion. Reply in character, keep it short.", cfg.Handle), nil
}

// Run polls until the context is cancelled. The timer re-arms only after a
// cycle completes, so cycles never overlap.
func (r *Responder) Run(ctx context.Context) error {
	log.Printf("[responder] polling every %s as %q", r.interval, r.handle)
	for {
		r.cycle(ctx)
		select {
		case <-ctx.Done():
			log.Printf("[responder] stopped")
			return nil
		case <-time.After(r.interval):
		}
	}
}

func (r *Responder) cycle(ctx context.Context) {
	heads, err := r.store.LatestPerChannel(ctx)
	if err != nil {
		log.Printf("[responder] fetch channels: %v", err)
		return
	}
	for _, head := range heads {
		if ctx.Err() != nil {
			return
		}
		r.processChannel(ctx, head)
	}
}

func (r *Responder) processChannel(ctx context.Context, head relay.Message) {
	if head.Time <= r.seen[head.Channel] {
		return
	}
	if head.SelfAuthored(r.handle) {
		// Our own reply landed; nothing to react to, and skipping it here
		// is the guard against a feedback loop.
		r.seen[head.Channel] = head.Time
		return
	}

	window, err := r.store.RecentMessages(ctx, head.Channel, r.contextLimit)
	if err != nil {
		log.Printf("[responder] fetch window for %s: %v", head.Channel, err)
		return
	}
	if len(window) == 0 || window[len(window)-1].SelfAuthored(r.handle) {
		return
	}

	turns := buildTurns(window, r.handle, r.contextLimit)

	cctx, cancel := context.WithTimeout(ctx, completionTimeout)
	reply, err := r.llm.Complete(cctx, r.system, turns)
	cancel()
	if err != nil {
		log.Printf("[responder] completion for %s: %v", head.Channel, err)
		reply = fallbackReply
	}
	if strings.TrimSpace(reply) == "" {
		reply = fallbackReply
	}

	task := relay.Task{
		Type:         r.taskType,
		ChannelID:    head.Channel,
		ResponseText: reply,
		Context:      window,
	}
	if err := r.store.EnqueueTask(ctx, task); err != nil {
		log.Printf("[responder] enqueue task for %s: %v", head.Channel, err)
		return
	}

	echo := relay.Message{
		Channel:     head.Channel,
		Author:      r.handle,
		Text:        reply,
		Time:        time.Now().Unix(),
		Destination: head.Destination,
	}
	if err := r.store.AppendMessage(ctx, echo); err != nil {
		// The task is already queued; leaving the watermark behind means a
		// duplicate reply is possible, which beats losing one.
		log.Printf("[responder] log reply for %s: %v", head.Channel, err)
		return
	}

	r.seen[head.Channel] = head.Time
	log.Printf("[responder] queued reply for channel %s", head.Channel)
}

// buildTurns converts the window into completion turns: self-authored
// messages become assistant turns, everything else a user turn prefixed with
// the author. Only the most recent media-bearing message contributes an
// image, attached to the fixed review instruction under the message's own
// role.
func buildTurns(window []relay.Message, handle string, limit int) []Turn {
	lastMedia := -1
	for i, msg := range window {
		if msg.MediaURL != "" {
			lastMedia = i
		}
	}

	turns := make([]Turn, 0, len(window)+1)
	for i, msg := range window {
		self := msg.SelfAuthored(handle)
		if msg.Text != "" {
			content := msg.Text
			if !self {
				content = msg.Author + ": " + msg.Text
			}
			turns = append(turns, Turn{Assistant: self, Content: content})
		}
		if i == lastMedia {
			turns = append(turns, Turn{Assistant: self, Content: reviewInstruction, ImageURL: msg.MediaURL})
		}
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}
