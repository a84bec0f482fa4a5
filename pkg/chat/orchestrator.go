package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/taskchat/internal/metrics"
	"github.com/harun/taskchat/pkg/agent"
	"github.com/harun/taskchat/pkg/thread"
	"github.com/harun/taskchat/pkg/toolconn"
)

const (
	// DefaultHistoryLimit bounds how many stored items seed a run
	DefaultHistoryLimit = 20

	// DefaultRunTimeout bounds one orchestrated run end to end
	DefaultRunTimeout = 2 * time.Minute
)

// Orchestrator merges stored conversation history with a live model run
// and streams the merged result to the caller.
type Orchestrator struct {
	store         thread.Store
	cache         *toolconn.Cache
	runner        *agent.Runner
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	model         agent.ModelConfig
	systemPrompt  string
	historyLimit  int
	runTimeout    time.Duration
	maxToolRounds int
}

// Config holds orchestrator dependencies
type Config struct {
	Store         thread.Store
	Cache         *toolconn.Cache
	Runner        *agent.Runner
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	Model         agent.ModelConfig
	SystemPrompt  string
	HistoryLimit  int
	RunTimeout    time.Duration
	MaxToolRounds int
}

// New creates a new orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}

	return &Orchestrator{
		store:         cfg.Store,
		cache:         cfg.Cache,
		runner:        cfg.Runner,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		model:         cfg.Model,
		systemPrompt:  cfg.SystemPrompt,
		historyLimit:  historyLimit,
		runTimeout:    runTimeout,
		maxToolRounds: cfg.MaxToolRounds,
	}, nil
}

// RespondParams contains input for one response stream
type RespondParams struct {
	UserID     string
	ThreadID   string
	Credential string
	Prompt     string
}

// Respond validates the request, persists the user message, and launches
// the model run. Events arrive on the returned channel; the channel is
// closed when the run completes or fails. A failed run ends with exactly
// one terminal error event.
func (o *Orchestrator) Respond(ctx context.Context, params RespondParams) (<-chan StreamEvent, error) {
	if err := validateRespondParams(params); err != nil {
		return nil, Classify(err)
	}

	th, err := o.store.GetThread(ctx, params.ThreadID)
	if err != nil {
		if err == thread.ErrThreadNotFound {
			return nil, Classify(&InputError{Reason: fmt.Sprintf("thread %s does not exist", params.ThreadID)})
		}
		return nil, Classify(err)
	}

	// Threads are private to their owner. Report foreign threads as
	// missing so their existence does not leak.
	if th.UserID != params.UserID {
		return nil, Classify(&InputError{Reason: fmt.Sprintf("thread %s does not exist", params.ThreadID)})
	}

	history, err := o.store.LoadRecent(ctx, params.ThreadID, o.historyLimit)
	if err != nil {
		return nil, Classify(err)
	}

	if err := o.store.Append(ctx, params.ThreadID, thread.Item{
		Role:    thread.RoleUser,
		Content: params.Prompt,
	}); err != nil {
		return nil, Classify(err)
	}

	events := make(chan StreamEvent, 64)
	go o.run(ctx, params, history, events)

	return events, nil
}

// run executes the model run and forwards events until completion
func (o *Orchestrator) run(ctx context.Context, params RespondParams, history []thread.Item, events chan<- StreamEvent) {
	defer close(events)

	start := time.Now()
	logger := o.logger.With().
		Str("user_id", params.UserID).
		Str("thread_id", params.ThreadID).
		Logger()

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	send := func(event StreamEvent) bool {
		if o.metrics != nil {
			o.metrics.StreamEventsTotal.WithLabelValues(event.Type).Inc()
		}
		select {
		case events <- event:
			return true
		case <-runCtx.Done():
			// The caller abandoned the stream or the run timed out;
			// stop forwarding
			return false
		}
	}

	fail := func(err error) {
		streamErr := Classify(err)
		logger.Error().
			Err(err).
			Str("kind", string(streamErr.Kind)).
			Dur("duration", time.Since(start)).
			Msg("Response stream failed")
		if o.metrics != nil {
			o.metrics.StreamErrorsTotal.WithLabelValues(string(streamErr.Kind)).Inc()
			o.metrics.RunsTotal.WithLabelValues("error").Inc()
		}
		send(StreamEvent{
			Type:     EventError,
			ThreadID: params.ThreadID,
			Err:      streamErr,
		})
	}

	var conn toolconn.Conn
	if o.cache != nil {
		handle, err := o.cache.Acquire(runCtx, params.UserID, params.Credential)
		if err != nil {
			fail(&UpstreamError{Err: err})
			return
		}
		conn = handle.Conn()
	}

	remapper := newIDRemapper(o.store, params.ThreadID, o.metrics)
	itemOpened := false

	emit := func(event agent.Event) {
		switch event.Type {
		case agent.EventTextDelta:
			itemID := remapper.Resolve(PlaceholderItemID)
			if !itemOpened {
				itemOpened = true
				send(StreamEvent{
					Type:     EventItemAdded,
					ItemID:   itemID,
					ThreadID: params.ThreadID,
					Role:     thread.RoleAssistant,
				})
			}
			send(StreamEvent{
				Type:     EventItemUpdated,
				ItemID:   itemID,
				ThreadID: params.ThreadID,
				Role:     thread.RoleAssistant,
				Delta:    event.Text,
			})
		case agent.EventToolCall:
			send(StreamEvent{
				Type:     EventToolCall,
				ThreadID: params.ThreadID,
				Tool:     event.ToolCall.Name,
			})
		case agent.EventToolResult:
			send(StreamEvent{
				Type:     EventToolResult,
				ThreadID: params.ThreadID,
				Tool:     event.ToolCall.Name,
				Content:  event.ToolOutput,
			})
		}
	}

	result, err := o.runner.Run(runCtx, agent.RunParams{
		UserID:        params.UserID,
		Model:         o.model,
		SystemPrompt:  agent.BuildSystemPrompt(o.systemPrompt, params.UserID),
		Messages:      agent.BuildMessages(history, params.Prompt),
		Conn:          conn,
		MaxToolRounds: o.maxToolRounds,
	}, emit)
	if err != nil {
		fail(err)
		return
	}

	itemID := remapper.Resolve(PlaceholderItemID)
	if err := o.store.Append(runCtx, params.ThreadID, thread.Item{
		ID:      itemID,
		Role:    thread.RoleAssistant,
		Content: result.Content,
	}); err != nil {
		fail(err)
		return
	}

	send(StreamEvent{
		Type:     EventItemDone,
		ItemID:   itemID,
		ThreadID: params.ThreadID,
		Role:     thread.RoleAssistant,
		Content:  result.Content,
	})

	if o.metrics != nil {
		o.metrics.RunsTotal.WithLabelValues("ok").Inc()
		o.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}

	logger.Info().
		Int("tool_calls", len(result.ToolCalls)).
		Dur("duration", time.Since(start)).
		Msg("Response stream completed")
}

// idRemapper rewrites placeholder item IDs to one store-assigned ID per
// run. The resolved ID is minted lazily on first use and reused for every
// later placeholder in the same run.
type idRemapper struct {
	store    thread.Store
	threadID string
	metrics  *metrics.Metrics
	resolved string
}

func newIDRemapper(store thread.Store, threadID string, m *metrics.Metrics) *idRemapper {
	return &idRemapper{
		store:    store,
		threadID: threadID,
		metrics:  m,
	}
}

// Resolve maps an item ID through the remap table. Non-placeholder IDs
// pass through untouched.
func (r *idRemapper) Resolve(id string) string {
	if id != PlaceholderItemID {
		return id
	}
	if r.resolved == "" {
		r.resolved = r.store.GenerateItemID("message", r.threadID)
		if r.metrics != nil {
			r.metrics.PlaceholderRemaps.Inc()
		}
	}
	return r.resolved
}

// validateRespondParams checks the structural shape of the request
func validateRespondParams(params RespondParams) error {
	if strings.TrimSpace(params.UserID) == "" {
		return &InputError{Reason: "user ID is required"}
	}
	if strings.TrimSpace(params.ThreadID) == "" {
		return &InputError{Reason: "thread ID is required"}
	}
	if strings.TrimSpace(params.Prompt) == "" {
		return &InputError{Reason: "prompt must not be empty"}
	}
	return nil
}
