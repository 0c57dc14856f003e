package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"conductor/internal/codex"
	"conductor/internal/credentials"
	"conductor/internal/logging"
	"conductor/internal/store"
	"conductor/internal/types"
)

const providerKey = "openai"

// runtimeClient, runtimeThread and runtimeStream mirror the runtime client
// surface so executions can run against a fake in tests.
type runtimeClient interface {
	CreateThread(ctx context.Context, opts codex.ThreadOptions) (runtimeThread, error)
	ResumeThread(ctx context.Context, threadID string, opts codex.ThreadOptions) (runtimeThread, error)
	Close()
	Closed() bool
}

type runtimeThread interface {
	ID() string
	UpdateSettings(ctx context.Context, settings codex.TurnSettings) error
	RunStreamed(ctx context.Context, prompt string) (runtimeStream, error)
}

type runtimeStream interface {
	Events() <-chan codex.Event
	TurnID() string
	Interrupt(ctx context.Context) error
}

type clientFactory func(ctx context.Context, opts codex.Options) (runtimeClient, error)

func startRuntimeClient(ctx context.Context, opts codex.Options) (runtimeClient, error) {
	client, err := codex.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &codexClientAdapter{client: client}, nil
}

type codexClientAdapter struct {
	client *codex.Client
}

func (a *codexClientAdapter) CreateThread(ctx context.Context, opts codex.ThreadOptions) (runtimeThread, error) {
	thread, err := a.client.CreateThread(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &codexThreadAdapter{thread: thread}, nil
}

func (a *codexClientAdapter) ResumeThread(ctx context.Context, threadID string, opts codex.ThreadOptions) (runtimeThread, error) {
	thread, err := a.client.ResumeThread(ctx, threadID, opts)
	if err != nil {
		return nil, err
	}
	return &codexThreadAdapter{thread: thread}, nil
}

func (a *codexClientAdapter) Close()       { a.client.Close() }
func (a *codexClientAdapter) Closed() bool { return a.client.Closed() }

type codexThreadAdapter struct {
	thread *codex.Thread
}

func (a *codexThreadAdapter) ID() string { return a.thread.ID() }

func (a *codexThreadAdapter) UpdateSettings(ctx context.Context, settings codex.TurnSettings) error {
	return a.thread.UpdateSettings(ctx, settings)
}

func (a *codexThreadAdapter) RunStreamed(ctx context.Context, prompt string) (runtimeStream, error) {
	stream, err := a.thread.RunStreamed(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &codexStreamAdapter{stream: stream}, nil
}

type codexStreamAdapter struct {
	stream *codex.TurnStream
}

func (a *codexStreamAdapter) Events() <-chan codex.Event { return a.stream.Events }

func (a *codexStreamAdapter) TurnID() string { return a.stream.TurnID() }

func (a *codexStreamAdapter) Interrupt(ctx context.Context) error { return a.stream.Interrupt(ctx) }

// runtimeFailure classifies a runtime call error: a closed client means the
// process is gone, so the call counts as unavailable rather than a fault in
// the turn itself.
func runtimeFailure(message string, err error) *EngineError {
	if errors.Is(err, codex.ErrClientClosed) {
		return unavailableError(message, err)
	}
	return runtimeError(message, err)
}

// threadManager owns the process-wide runtime client and the create/resume
// decision per session. The client is recreated only when the resolved
// credential changes by value or the config artifact was rewritten; repeated
// prompts otherwise share one process.
type threadManager struct {
	command     string
	runtimeHome string
	factory     clientFactory
	credentials credentials.Resolver
	sessions    store.SessionStore
	logger      logging.Logger

	mu          sync.Mutex
	client      runtimeClient
	clientKey   string
	invalidated bool
}

func newThreadManager(command, runtimeHome string, factory clientFactory, creds credentials.Resolver, sessions store.SessionStore, logger logging.Logger) *threadManager {
	if logger == nil {
		logger = logging.Nop()
	}
	if factory == nil {
		factory = startRuntimeClient
	}
	return &threadManager{
		command:     command,
		runtimeHome: runtimeHome,
		factory:     factory,
		credentials: creds,
		sessions:    sessions,
		logger:      logger,
	}
}

// invalidate marks the cached client stale. The next acquire replaces it;
// the runtime only reads its config artifact at process start.
func (m *threadManager) invalidate() {
	m.mu.Lock()
	m.invalidated = true
	m.mu.Unlock()
}

func (m *threadManager) close() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

func (m *threadManager) acquireClient(ctx context.Context, userID string) (runtimeClient, error) {
	apiKey := ""
	if m.credentials != nil {
		if key, ok := m.credentials.APIKey(providerKey, userID); ok {
			apiKey = key
		}
	}
	var userEnv map[string]string
	if m.credentials != nil {
		userEnv = m.credentials.UserEnvironment(userID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && !m.client.Closed() && !m.invalidated && m.clientKey == apiKey {
		return m.client, nil
	}
	if m.client != nil {
		if m.invalidated {
			m.logger.Info("runtime_client_replaced", logging.F("reason", "config_changed"))
		} else if m.clientKey != apiKey {
			m.logger.Info("runtime_client_replaced", logging.F("reason", "credential_changed"))
		}
		m.client.Close()
		m.client = nil
	}
	client, err := m.factory(ctx, codex.Options{
		Command:     m.command,
		RuntimeHome: m.runtimeHome,
		APIKey:      apiKey,
		Env:         userEnv,
		Logger:      m.logger,
	})
	if err != nil {
		return nil, unavailableError("failed to start runtime", err)
	}
	m.client = client
	m.clientKey = apiKey
	m.invalidated = false
	return client, nil
}

// openThread creates or resumes the session's remote thread. A freshly
// created thread id is persisted before any prompt is sent so a crash
// between create and turn cannot orphan the remote history.
func (m *threadManager) openThread(ctx context.Context, client runtimeClient, session *types.Session, opts codex.ThreadOptions, settings codex.TurnSettings, policyChanged bool, serverCount int) (runtimeThread, bool, error) {
	threadID := strings.TrimSpace(session.ThreadID)
	if threadID == "" {
		thread, err := m.createThread(ctx, client, session, opts)
		if err != nil {
			return nil, false, err
		}
		return thread, true, nil
	}

	if serverCount > 0 {
		m.logger.Warn("capability_servers_on_resumed_thread",
			logging.F("session_id", session.ID),
			logging.F("thread_id", threadID),
			logging.F("servers", serverCount),
		)
	}
	thread, err := client.ResumeThread(ctx, threadID, opts)
	if err != nil {
		if !isMissingThreadError(err) {
			return nil, false, runtimeFailure("failed to resume thread", err)
		}
		m.logger.Warn("resume_missing_thread",
			logging.F("session_id", session.ID),
			logging.F("thread_id", threadID),
			logging.Err(err),
		)
		thread, err = m.createThread(ctx, client, session, opts)
		if err != nil {
			return nil, false, err
		}
		return thread, true, nil
	}

	if policyChanged {
		if err := thread.UpdateSettings(ctx, settings); err != nil {
			m.logger.Warn("thread_settings_update_failed",
				logging.F("session_id", session.ID),
				logging.F("thread_id", threadID),
				logging.Err(err),
			)
		}
	}
	return thread, false, nil
}

func (m *threadManager) createThread(ctx context.Context, client runtimeClient, session *types.Session, opts codex.ThreadOptions) (runtimeThread, error) {
	thread, err := client.CreateThread(ctx, opts)
	if err != nil {
		return nil, runtimeFailure("failed to create thread", err)
	}
	threadID := strings.TrimSpace(thread.ID())
	if threadID == "" {
		return nil, runtimeError("runtime returned empty thread id", nil)
	}
	if _, err := m.sessions.Update(ctx, session.ID, types.SessionPatch{ThreadID: &threadID}); err != nil {
		return nil, runtimeError("failed to persist thread id", err)
	}
	session.ThreadID = threadID
	m.logger.Info("thread_bound",
		logging.F("session_id", session.ID),
		logging.F("thread_id", threadID),
	)
	return thread, nil
}

func isMissingThreadError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(text, "thread not found") ||
		strings.Contains(text, "thread not loaded") ||
		strings.Contains(text, "no rollout found for thread id")
}
