package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"conductor/internal/codex"
	"conductor/internal/credentials"
	"conductor/internal/logging"
	"conductor/internal/store"
	"conductor/internal/types"
)

const interruptTimeout = 2 * time.Second

// WorktreeResolver maps a session onto the working directory its runtime
// threads execute in.
type WorktreeResolver interface {
	Ensure(ctx context.Context, session *types.Session) (string, error)
}

// Options wires the engine's collaborators. Every field except Logger and
// DefaultModel is required.
type Options struct {
	Repository     store.Repository
	Credentials    credentials.Resolver
	Worktrees      WorktreeResolver
	RuntimeCommand string
	RuntimeHome    string
	DefaultModel   string
	Logger         logging.Logger

	// clientFactory overrides how runtime clients are started; tests
	// substitute a fake runtime here.
	clientFactory clientFactory
}

// ExecuteRequest submits one prompt against a session.
type ExecuteRequest struct {
	SessionID string
	Prompt    string
	// TaskID links the produced messages to a task and updates the task's
	// recorded model once resolved.
	TaskID string
	// Permissions overrides the session's stored permission config for
	// this prompt onward. Nil keeps the stored config.
	Permissions *types.PermissionConfig
}

// Result summarizes one executed prompt. Cancelled results are successes:
// whatever was persisted before the stop remains valid log content.
type Result struct {
	MessageIDs []string
	ThreadID   string
	Model      string
	Usage      types.TokenUsage
	Cancelled  bool
}

// Engine drives prompts through the runtime and materializes each turn as
// ordered messages. One execution runs per session at a time; executions
// for different sessions share the cached runtime client.
type Engine struct {
	sessions     store.SessionStore
	messages     store.MessageStore
	tasks        store.TaskStore
	config       *configSynthesizer
	threads      *threadManager
	worktrees    WorktreeResolver
	stops        *stopSet
	logger       logging.Logger
	defaultModel string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(opts Options) (*Engine, error) {
	if opts.Repository == nil {
		return nil, invalidError("engine requires a repository", nil)
	}
	if opts.Credentials == nil {
		return nil, invalidError("engine requires a credential resolver", nil)
	}
	if opts.Worktrees == nil {
		return nil, invalidError("engine requires a worktree resolver", nil)
	}
	command := strings.TrimSpace(opts.RuntimeCommand)
	if command == "" {
		return nil, invalidError("engine requires a runtime command", nil)
	}
	runtimeHome := strings.TrimSpace(opts.RuntimeHome)
	if runtimeHome == "" {
		return nil, invalidError("engine requires a runtime home directory", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	threads := newThreadManager(command, runtimeHome, opts.clientFactory, opts.Credentials, opts.Repository.Sessions(), logger)
	artifactPath := filepath.Join(runtimeHome, "config.toml")
	config := newConfigSynthesizer(opts.Repository.CapabilityServers(), artifactPath, logger, threads.invalidate)

	return &Engine{
		sessions:     opts.Repository.Sessions(),
		messages:     opts.Repository.Messages(),
		tasks:        opts.Repository.Tasks(),
		config:       config,
		threads:      threads,
		worktrees:    opts.Worktrees,
		stops:        newStopSet(),
		logger:       logger,
		defaultModel: strings.TrimSpace(opts.DefaultModel),
	}, nil
}

// Close shuts down the cached runtime client.
func (e *Engine) Close() {
	e.threads.close()
}

// RequestStop flags the session's running execution to stop after the event
// it is currently handling. Unknown or idle sessions accept the request as
// a no-op.
func (e *Engine) RequestStop(sessionID string) {
	e.stops.request(strings.TrimSpace(sessionID))
}

// ExecutePrompt runs one prompt to completion. A nil sink suppresses the
// intermediate notifications; persistence happens either way.
func (e *Engine) ExecutePrompt(ctx context.Context, req ExecuteRequest, sink Sink) (*Result, error) {
	if sink == nil {
		sink = NopSink()
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, invalidError("session id is required", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, invalidError("prompt is required", nil)
	}
	log := e.logger.With(
		logging.F("request_id", logging.NewRequestID()),
		logging.F("session_id", sessionID),
	)

	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// A stop requested while nothing was running must not kill this turn.
	e.stops.clear(sessionID)

	session, ok, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, runtimeError("failed to load session", err)
	}
	if !ok {
		return nil, notFoundError("session not found", nil)
	}

	workDir, err := e.worktrees.Ensure(ctx, session)
	if err != nil {
		return nil, unavailableError("failed to resolve worktree", err)
	}
	if workDir != session.WorktreePath {
		if updated, err := e.sessions.Update(ctx, sessionID, types.SessionPatch{WorktreePath: &workDir}); err == nil {
			session = updated
		} else {
			log.Warn("session_worktree_record_failed", logging.Err(err))
			session.WorktreePath = workDir
		}
	}

	effective, policyChanged := e.effectivePermissions(ctx, session, req.Permissions)

	serverCount := e.config.ensure(ctx, effective.ApprovalPolicy, effective.NetworkAccess, sessionID)

	client, err := e.threads.acquireClient(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	model := strings.TrimSpace(session.Model)
	if model == "" {
		model = e.defaultModel
	}
	threadOpts := codex.ThreadOptions{
		Model:          model,
		Cwd:            workDir,
		ApprovalPolicy: string(effective.ApprovalPolicy),
		SandboxMode:    string(effective.SandboxMode),
	}
	network := effective.NetworkAccess
	settings := codex.TurnSettings{
		ApprovalPolicy: string(effective.ApprovalPolicy),
		SandboxMode:    string(effective.SandboxMode),
		NetworkAccess:  &network,
	}

	thread, created, err := e.threads.openThread(ctx, client, session, threadOpts, settings, policyChanged, serverCount)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("execution_thread_created", logging.F("thread_id", session.ThreadID))
	}

	e.attachTask(ctx, req.TaskID, sessionID)

	baseIndex, err := e.messages.CountBySession(ctx, sessionID)
	if err != nil {
		return nil, runtimeError("failed to count messages", err)
	}
	userMessage, err := e.messages.Create(ctx, &types.Message{
		SessionID: sessionID,
		TaskID:    req.TaskID,
		Role:      types.RoleUser,
		Index:     baseIndex,
		Content:   []types.ContentBlock{types.TextBlock(req.Prompt)},
	})
	if err != nil {
		return nil, persistError("failed to persist user message", err)
	}
	messageIDs := []string{userMessage.ID}
	nextIndex := baseIndex + 1

	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()
	stream, err := thread.RunStreamed(turnCtx, req.Prompt)
	if err != nil {
		return nil, runtimeFailure("failed to start turn", err)
	}
	log = log.With(logging.F("turn_id", stream.TurnID()))

	translator := newTurnTranslator()
	translator.model = model
	translator.threadID = session.ThreadID

	var final *TurnResult
	cancelled := false
	for event := range stream.Events() {
		if e.stops.consume(sessionID) {
			cancelled = true
			interruptCtx, cancelInterrupt := context.WithTimeout(context.Background(), interruptTimeout)
			if err := stream.Interrupt(interruptCtx); err != nil {
				log.Warn("turn_interrupt_failed", logging.Err(err))
			}
			cancelInterrupt()
			break
		}
		step, err := translator.apply(event)
		if err != nil {
			sink.OnError(err)
			return nil, err
		}
		switch step.action {
		case actionToolStart:
			sink.OnToolStart(step.tool)
		case actionTextChunk:
			sink.OnTextChunk(step.chunk)
		case actionToolComplete:
			message, err := e.messages.Create(ctx, &types.Message{
				SessionID: sessionID,
				TaskID:    req.TaskID,
				Role:      types.RoleAssistant,
				Index:     nextIndex,
				Content:   step.blocks,
				ToolUses:  lastToolUse(step),
			})
			if err != nil {
				return nil, persistError("failed to persist tool message", err)
			}
			nextIndex++
			messageIDs = append(messageIDs, message.ID)
			sink.OnToolComplete(step.tool)
		case actionComplete:
			result := step.result
			final = &result
		}
		if final != nil {
			break
		}
	}

	if cancelled {
		log.Info("execution_cancelled")
		return &Result{
			MessageIDs: messageIDs,
			ThreadID:   session.ThreadID,
			Model:      model,
			Cancelled:  true,
		}, nil
	}
	if final == nil {
		return nil, unavailableError("runtime stream ended before turn completion", nil)
	}

	resolvedModel := final.Model
	if resolvedModel == "" {
		resolvedModel = model
	}
	if len(final.Content) > 0 {
		usage := final.Usage
		message, err := e.messages.Create(ctx, &types.Message{
			SessionID: sessionID,
			TaskID:    req.TaskID,
			Role:      types.RoleAssistant,
			Index:     nextIndex,
			Content:   final.Content,
			Metadata:  &types.MessageMetadata{Model: resolvedModel, Tokens: &usage},
		})
		if err != nil {
			return nil, persistError("failed to persist assistant message", err)
		}
		messageIDs = append(messageIDs, message.ID)
	}
	sink.OnComplete(*final)

	e.recordModel(ctx, session, req.TaskID, resolvedModel)

	return &Result{
		MessageIDs: messageIDs,
		ThreadID:   session.ThreadID,
		Model:      resolvedModel,
		Usage:      final.Usage,
	}, nil
}

// effectivePermissions merges a per-request override into the session's
// stored config, persists the change, and reports whether the approval
// policy differs from the one the live thread last saw.
func (e *Engine) effectivePermissions(ctx context.Context, session *types.Session, override *types.PermissionConfig) (types.PermissionConfig, bool) {
	effective := session.Permissions
	if override != nil {
		if policy, ok := types.NormalizeApprovalPolicy(override.ApprovalPolicy); ok {
			effective.ApprovalPolicy = policy
		}
		if sandbox, ok := types.NormalizeSandboxMode(override.SandboxMode); ok {
			effective.SandboxMode = sandbox
		}
		effective.NetworkAccess = override.NetworkAccess
	}
	policyChanged := session.ThreadID != "" && effective.ApprovalPolicy != session.Permissions.ApprovalPolicy
	if effective != session.Permissions {
		perms := effective
		if updated, err := e.sessions.Update(ctx, session.ID, types.SessionPatch{Permissions: &perms}); err == nil {
			*session = *updated
		} else {
			e.logger.Warn("session_permissions_record_failed", logging.F("session_id", session.ID), logging.Err(err))
			session.Permissions = effective
		}
	}
	return effective, policyChanged
}

func (e *Engine) attachTask(ctx context.Context, taskID, sessionID string) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return
	}
	if _, err := e.tasks.AttachSession(ctx, taskID, sessionID); err != nil {
		e.logger.Warn("task_attach_failed",
			logging.F("task_id", taskID),
			logging.F("session_id", sessionID),
			logging.Err(err),
		)
	}
}

// recordModel stamps the resolved model onto the session and, when the
// prompt belongs to a task, onto the task. Bookkeeping failures are logged
// and never fail the completed turn.
func (e *Engine) recordModel(ctx context.Context, session *types.Session, taskID, model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	if session.Model != model {
		if _, err := e.sessions.Update(ctx, session.ID, types.SessionPatch{Model: &model}); err != nil {
			e.logger.Warn("session_model_record_failed", logging.F("session_id", session.ID), logging.Err(err))
		}
	}
	if taskID = strings.TrimSpace(taskID); taskID != "" {
		if _, err := e.tasks.Update(ctx, taskID, types.TaskPatch{Model: &model}); err != nil {
			e.logger.Warn("task_model_record_failed", logging.F("task_id", taskID), logging.Err(err))
		}
	}
}

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locks == nil {
		e.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

func lastToolUse(step translateStep) []types.ToolUse {
	if step.tool.ID == "" && step.tool.Name == "" {
		return nil
	}
	return []types.ToolUse{{
		ID:     step.tool.ID,
		Name:   step.tool.Name,
		Input:  step.tool.Input,
		Output: step.tool.Output,
		Status: step.tool.Status,
	}}
}

// persistError classifies a message-write failure: an index collision means
// another writer advanced the session's log and surfaces as a conflict.
func persistError(message string, err error) *EngineError {
	if errors.Is(err, store.ErrMessageIndexConflict) {
		return conflictError(message, err)
	}
	return runtimeError(message, err)
}
