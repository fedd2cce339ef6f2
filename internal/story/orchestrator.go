package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odisseyhq/odissey/internal/domain"
	"github.com/odisseyhq/odissey/internal/prompt"
	"github.com/odisseyhq/odissey/internal/provider"
	"github.com/odisseyhq/odissey/internal/store"
)

// ErrGenerationFailed is the single terminal error raised after the retry
// budget is exhausted. It is distinct from provider and validation errors.
var ErrGenerationFailed = errors.New("story generation failed")

// Options configures turn execution. Zero values take the documented
// defaults.
type Options struct {
	// Provider is an explicit adapter name; empty uses the registry default.
	Provider string

	// MaxAttempts is the retry ceiling per turn (default 3).
	MaxAttempts int

	// BackoffBase and BackoffCap shape the exponential backoff between
	// attempts (defaults 1s and 5s).
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// TurnTimeout bounds total turn latency including all retries
	// (default 45s).
	TurnTimeout time.Duration

	// HistoryWindow is how many recent messages replay as context
	// (default 12).
	HistoryWindow int

	// Temperature and MaxTokens are passed through to the adapter.
	Temperature float64
	MaxTokens   int

	// StreamDelay paces simulated streaming for adapters without native
	// streaming. Negative disables pacing.
	StreamDelay time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = time.Second
	}
	if out.BackoffCap <= 0 {
		out.BackoffCap = 5 * time.Second
	}
	if out.TurnTimeout <= 0 {
		out.TurnTimeout = 45 * time.Second
	}
	if out.HistoryWindow <= 0 {
		out.HistoryWindow = 12
	}
	if out.Temperature == 0 {
		out.Temperature = 0.8
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 600
	}
	return out
}

// StreamCallbacks receives speculative output during a streaming turn.
// Chunks are forwarded before the attempt is validated; OnRetry signals that
// everything streamed so far belongs to a discarded attempt and must be
// cleared.
type StreamCallbacks struct {
	OnChunk func(content string)
	OnRetry func()
}

// Orchestrator executes story turns. Turns against the same session are
// serialized: the per-session lock is held from turn start until the
// post-turn world-state refresh commits, so turn N+1 always reads the state
// written by turn N while responses still return without waiting for the
// refresh.
type Orchestrator struct {
	repo     store.Repository
	registry *provider.Registry
	builder  *prompt.Builder
	director *prompt.Director
	opts     Options
	logger   *slog.Logger

	// locks entries are refcounted and removed once the last holder or
	// waiter releases, so idle sessions leave nothing behind.
	mu    sync.Mutex
	locks map[string]*sessionLock
	bg    sync.WaitGroup
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a turn orchestrator.
func New(repo store.Repository, registry *provider.Registry, builder *prompt.Builder, director *prompt.Director, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		repo:     repo,
		registry: registry,
		builder:  builder,
		director: director,
		opts:     opts.withDefaults(),
		locks:    make(map[string]*sessionLock),
		logger:   logger,
	}
}

// Wait blocks until all background world-state refreshes have finished.
// Called during shutdown and by tests.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// acquireSession blocks until the session's turn lock is held. The refcount
// covers waiters too, so the map entry survives exactly as long as someone
// needs it.
func (o *Orchestrator) acquireSession(sessionID string) *sessionLock {
	o.mu.Lock()
	l, ok := o.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		o.locks[sessionID] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return l
}

func (o *Orchestrator) releaseSession(sessionID string, l *sessionLock) {
	l.mu.Unlock()
	o.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(o.locks, sessionID)
	}
	o.mu.Unlock()
}

// Turn executes one blocking turn and returns the narrator's full response.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, userMessage string) (string, error) {
	return o.run(ctx, sessionID, userMessage, nil)
}

// StreamTurn executes one turn, forwarding chunks through cb as they arrive,
// and returns the validated full response.
func (o *Orchestrator) StreamTurn(ctx context.Context, sessionID, userMessage string, cb StreamCallbacks) (string, error) {
	return o.run(ctx, sessionID, userMessage, &cb)
}

func (o *Orchestrator) run(ctx context.Context, sessionID, userMessage string, cb *StreamCallbacks) (string, error) {
	lock := o.acquireSession(sessionID)
	// Release is deferred to the world-state refresh on success; every
	// other path releases before returning.
	released := false
	defer func() {
		if !released {
			o.releaseSession(sessionID, lock)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
	defer cancel()

	session, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	world, err := o.repo.GetWorld(ctx, session.WorldID)
	if err != nil {
		return "", fmt.Errorf("load world: %w", err)
	}

	if _, err := o.repo.AppendMessage(ctx, sessionID, domain.RoleUser, userMessage); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}

	system, turns, err := o.assemble(ctx, session, world)
	if err != nil {
		return "", err
	}

	content, err := o.generate(ctx, system, turns, cb)
	if err != nil {
		return "", err
	}

	// Persist even if the caller just disconnected: the turn completed and
	// the at-most-once guarantee is a single append, never a rewrite.
	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer persistCancel()
	if _, err := o.repo.AppendMessage(persistCtx, sessionID, domain.RoleNarrator, content); err != nil {
		return "", fmt.Errorf("append narrator message: %w", err)
	}

	// Best-effort world-state refresh, off the response critical path. The
	// session lock travels with the goroutine so the next turn cannot read
	// stale state.
	released = true
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer o.releaseSession(sessionID, lock)
		o.refreshWorldState(sessionID, world, session.WorldState, userMessage, content)
	}()

	return content, nil
}

// assemble builds the instruction context and conversation history for the
// current turn.
func (o *Orchestrator) assemble(ctx context.Context, session *domain.StorySession, world *domain.World) (string, []provider.Message, error) {
	exchanges, err := o.repo.CountMessages(ctx, session.ID, domain.RoleNarrator)
	if err != nil {
		return "", nil, fmt.Errorf("count exchanges: %w", err)
	}

	recent, err := o.repo.RecentMessages(ctx, session.ID, o.opts.HistoryWindow)
	if err != nil {
		return "", nil, fmt.Errorf("load recent messages: %w", err)
	}

	phase := o.builder.PhaseFor(world, exchanges)

	var directives []string
	if o.director != nil {
		directives = o.director.Directives(ctx, phase, recent)
	}

	system, err := o.builder.Build(world, session.WorldState, phase, directives)
	if err != nil {
		return "", nil, fmt.Errorf("assemble prompt: %w", err)
	}

	turns := make([]provider.Message, 0, len(recent))
	for _, m := range recent {
		role := "user"
		if m.IsNarrator() {
			role = "assistant"
		}
		turns = append(turns, provider.Message{Role: role, Content: m.Content})
	}
	return system, turns, nil
}

// generate runs the attempt loop: call the provider, validate, retry with
// exponential backoff. Chunks stream speculatively; a failed attempt after
// partial streaming emits a retry signal so the client discards them.
func (o *Orchestrator) generate(ctx context.Context, system string, turns []provider.Message, cb *StreamCallbacks) (string, error) {
	req := provider.Request{
		System:      system,
		Messages:    turns,
		Temperature: o.opts.Temperature,
		MaxTokens:   o.opts.MaxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < o.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := o.backoff(ctx, attempt); err != nil {
				return "", fmt.Errorf("%w: %w (last error: %w)", ErrGenerationFailed, err, lastErr)
			}
		}

		adapter, err := o.registry.SelectFor(provider.ModalityText, o.opts.Provider)
		if err != nil {
			// Selection failures are configuration problems, never retried.
			return "", err
		}

		content, attemptErr := o.attempt(ctx, adapter, req, cb)
		if attemptErr == nil {
			return content, nil
		}
		lastErr = attemptErr

		if ctx.Err() != nil {
			break
		}
		o.logger.Warn("generation attempt failed",
			"attempt", attempt+1,
			"max_attempts", o.opts.MaxAttempts,
			"provider", adapter.Name(),
			"error", attemptErr,
		)
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrGenerationFailed, o.opts.MaxAttempts, lastErr)
}

func (o *Orchestrator) attempt(ctx context.Context, adapter provider.Adapter, req provider.Request, cb *StreamCallbacks) (string, error) {
	streaming := cb != nil

	var res *provider.Result
	var err error
	streamed := false
	if streaming {
		res, err = provider.Stream(ctx, adapter, req, func(chunk string) {
			streamed = true
			if cb.OnChunk != nil {
				cb.OnChunk(chunk)
			}
		}, o.opts.StreamDelay)
	} else {
		res, err = adapter.Generate(ctx, req)
	}

	if err == nil {
		err = validate(res.Content, streaming)
		if err == nil {
			return res.Content, nil
		}
	}

	// The discarded attempt may have reached the client already; tell it
	// to clear what it rendered.
	if streamed && cb.OnRetry != nil {
		cb.OnRetry()
	}
	return "", err
}

func (o *Orchestrator) backoff(ctx context.Context, attempt int) error {
	delay := o.opts.BackoffBase << (attempt - 1)
	if delay > o.opts.BackoffCap {
		delay = o.opts.BackoffCap
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// refreshWorldState asks a provider to fold the latest exchange into the
// session's narrative memory. Failure is logged, never surfaced: the turn
// already succeeded from the player's perspective.
func (o *Orchestrator) refreshWorldState(sessionID string, world *domain.World, oldState, userMessage, narratorText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	adapter, err := o.registry.SelectFor(provider.ModalityText, o.opts.Provider)
	if err != nil {
		o.logger.Warn("world-state refresh skipped: no adapter", "session_id", sessionID, "error", err)
		return
	}

	res, err := adapter.Generate(ctx, provider.Request{
		System: "You maintain the memory of an interactive story. Given the previous memory and the latest " +
			"exchange, write an updated memory under 120 words: facts, open threads, changed relationships. " +
			"Plain prose, no headings.",
		Messages: []provider.Message{{
			Role: "user",
			Content: fmt.Sprintf("World: %s\n\nPrevious memory:\n%s\n\nPlayer: %s\n\nNarrator: %s",
				world.Title, oldState, userMessage, narratorText),
		}},
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		o.logger.Warn("world-state refresh failed", "session_id", sessionID, "error", err)
		return
	}

	if err := o.repo.SetWorldState(ctx, sessionID, res.Content); err != nil {
		o.logger.Warn("world-state write failed", "session_id", sessionID, "error", err)
		return
	}
	o.logger.Debug("world state refreshed", "session_id", sessionID, "state_length", len(res.Content))
}

// Opening generates the narrator's first message for a new session. It runs
// through the same registry and validation as a regular turn but without
// session history.
func (o *Orchestrator) Opening(ctx context.Context, world *domain.World) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
	defer cancel()

	system, err := o.builder.Build(world, world.InitialState, domain.PhaseOpening, nil)
	if err != nil {
		return "", fmt.Errorf("assemble opening prompt: %w", err)
	}

	turns := []provider.Message{{Role: "user", Content: "Begin the story."}}
	return o.generate(ctx, system, turns, nil)
}
