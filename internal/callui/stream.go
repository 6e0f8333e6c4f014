package callui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"voip-callkit/internal/calls"

	"github.com/redis/go-redis/v9"
)

// Stream command ops.
const (
	OpReport = "report"
	OpEnd    = "end"
	OpAnswer = "answer"
	OpMute   = "mute"
)

// StreamPresenter publishes call-UI commands onto a Redis stream read by the
// device-side call-UI agent. A request succeeds once the command is appended.
// Commands are appended in the order they were issued.
type StreamPresenter struct {
	client  redis.UniversalClient
	stream  string
	maxLen  int64
	timeout time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	queue    []streamCommand
	draining bool
	wg       sync.WaitGroup
}

type streamCommand struct {
	ctx    context.Context
	op     string
	callID string
	args   *redis.XAddArgs
	done   Completion
}

type StreamConfig struct {
	// Client is required.
	Client redis.UniversalClient

	// Stream defaults to "callkit:callui".
	Stream string

	// MaxLen caps the stream length (approximate trimming). 0 keeps everything.
	MaxLen int64

	// Timeout bounds each XADD. Defaults to 5s.
	Timeout time.Duration

	Logger *slog.Logger
}

func NewStreamPresenter(cfg StreamConfig) (*StreamPresenter, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("callui: redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "callkit:callui"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StreamPresenter{
		client:  cfg.Client,
		stream:  cfg.Stream,
		maxLen:  cfg.MaxLen,
		timeout: cfg.Timeout,
		log:     cfg.Logger,
	}, nil
}

func (p *StreamPresenter) Name() string { return "stream" }

func (p *StreamPresenter) ReportIncomingCall(ctx context.Context, call IncomingCall, done Completion) {
	payload, err := json.Marshal(call)
	if err != nil {
		complete(done, err)
		return
	}
	p.publish(ctx, OpReport, call.CallID, map[string]any{"payload": payload}, done)
}

func (p *StreamPresenter) EndCall(ctx context.Context, callID string, reason calls.EndedReason, done Completion) {
	p.publish(ctx, OpEnd, callID, map[string]any{"reason": string(reason)}, done)
}

func (p *StreamPresenter) AnswerCall(ctx context.Context, callID string, done Completion) {
	p.publish(ctx, OpAnswer, callID, nil, done)
}

func (p *StreamPresenter) SetMuted(ctx context.Context, callID string, muted bool, done Completion) {
	p.publish(ctx, OpMute, callID, map[string]any{"muted": strconv.FormatBool(muted)}, done)
}

// Wait blocks until every queued command has been published or has failed.
func (p *StreamPresenter) Wait() {
	p.wg.Wait()
}

func (p *StreamPresenter) publish(ctx context.Context, op, callID string, extra map[string]any, done Completion) {
	values := map[string]any{
		"op":         op,
		"session_id": callID,
	}
	for k, v := range extra {
		values[k] = v
	}
	args := &redis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	// The caller's context usually belongs to a request that ends before the
	// command is written; keep its values but not its cancellation.
	cmd := streamCommand{ctx: context.WithoutCancel(ctx), op: op, callID: callID, args: args, done: done}

	p.mu.Lock()
	p.queue = append(p.queue, cmd)
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.wg.Add(1)
	p.mu.Unlock()

	go p.drain()
}

// drain appends queued commands one at a time until the queue is empty.
func (p *StreamPresenter) drain() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.draining = false
			p.mu.Unlock()
			return
		}
		cmd := p.queue[0]
		p.queue[0] = streamCommand{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.send(cmd)
	}
}

func (p *StreamPresenter) send(cmd streamCommand) {
	ctx, cancel := context.WithTimeout(cmd.ctx, p.timeout)
	defer cancel()

	id, err := p.client.XAdd(ctx, cmd.args).Result()
	if err != nil {
		p.log.Warn("callui publish failed", "op", cmd.op, "call_id", cmd.callID, "err", err)
		complete(cmd.done, fmt.Errorf("publish %s to %s: %w", cmd.op, p.stream, err))
		return
	}
	p.log.Debug("callui command published", "op", cmd.op, "call_id", cmd.callID, "entry_id", id)
	complete(cmd.done, nil)
}
