package codex

import (
	"context"
	"errors"
	"strings"

	"conductor/internal/logging"
)

// ThreadOptions shape a thread at creation time. The sandbox binds when the
// thread is created; later turns inherit it.
type ThreadOptions struct {
	Model          string
	Cwd            string
	ApprovalPolicy string
	SandboxMode    string
}

// TurnSettings reconfigure a live thread between turns.
type TurnSettings struct {
	ApprovalPolicy string
	SandboxMode    string
	NetworkAccess  *bool
}

// Thread is a handle on one remote conversation. Handles are cheap; the
// remote runtime owns the history.
type Thread struct {
	client *Client
	id     string
	opts   ThreadOptions
}

func (t *Thread) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// CreateThread starts a fresh thread. The working directory and sandbox
// mode bind here and persist for the thread's lifetime.
func (c *Client) CreateThread(ctx context.Context, opts ThreadOptions) (*Thread, error) {
	params := threadStartParams(opts)
	c.logger.Info("thread_create",
		logging.F("model", opts.Model),
		logging.F("cwd", opts.Cwd),
	)
	var result struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if err := c.request(ctx, "thread/start", params, &result); err != nil {
		c.logger.Error("thread_create_error", logging.F("model", opts.Model), logging.Err(err))
		return nil, err
	}
	id := strings.TrimSpace(result.Thread.ID)
	if id == "" {
		return nil, errors.New("runtime returned no thread id")
	}
	c.logger.Info("thread_create_ok", logging.F("thread_id", id))
	return &Thread{client: c, id: id, opts: opts}, nil
}

// ResumeThread reattaches to an existing thread. Prior turns are retained
// by the runtime; resuming never discards history.
func (c *Client) ResumeThread(ctx context.Context, threadID string, opts ThreadOptions) (*Thread, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	params := map[string]any{"threadId": threadID}
	if err := c.request(ctx, "thread/resume", params, nil); err != nil {
		c.logger.Warn("thread_resume_error", logging.F("thread_id", threadID), logging.Err(err))
		return nil, err
	}
	c.logger.Info("thread_resume_ok", logging.F("thread_id", threadID))
	return &Thread{client: c, id: threadID, opts: opts}, nil
}

// UpdateSettings sends the control command that reconfigures a live thread.
// Callers treat failures as advisory; the next prompt proceeds either way.
func (t *Thread) UpdateSettings(ctx context.Context, settings TurnSettings) error {
	if t == nil || t.client == nil {
		return ErrClientClosed
	}
	params := threadSettingsParams(t.id, settings)
	if err := t.client.request(ctx, "thread/setSettings", params, nil); err != nil {
		t.client.logger.Warn("thread_settings_error", logging.F("thread_id", t.id), logging.Err(err))
		return err
	}
	t.client.logger.Info("thread_settings_ok",
		logging.F("thread_id", t.id),
		logging.F("approval_policy", settings.ApprovalPolicy),
	)
	return nil
}

// TurnStream delivers one turn's events in arrival order. The channel
// closes after the terminal event, or early if the runtime goes away.
type TurnStream struct {
	Events <-chan Event

	turnID string
	thread *Thread
}

func (s *TurnStream) TurnID() string {
	if s == nil {
		return ""
	}
	return s.turnID
}

// Interrupt asks the runtime to stop the in-flight turn. The stream still
// ends with a terminal event (or closure) afterwards.
func (s *TurnStream) Interrupt(ctx context.Context) error {
	if s == nil || s.thread == nil || s.thread.client == nil {
		return ErrClientClosed
	}
	params := map[string]any{
		"threadId": s.thread.id,
		"turnId":   s.turnID,
	}
	return s.thread.client.request(ctx, "turn/interrupt", params, nil)
}

// RunStreamed submits a prompt and streams the resulting turn. The
// subscription is registered before turn/start so no early event is lost.
func (t *Thread) RunStreamed(ctx context.Context, prompt string) (*TurnStream, error) {
	if t == nil || t.client == nil {
		return nil, ErrClientClosed
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	sub := t.client.subscribe(t.id)
	turnID, err := t.client.startTurn(ctx, t.id, prompt, t.opts)
	if err != nil {
		sub.Close()
		return nil, err
	}
	out := make(chan Event)
	go forwardTurnEvents(ctx, sub, out, turnID)
	return &TurnStream{Events: out, turnID: turnID, thread: t}, nil
}

func forwardTurnEvents(ctx context.Context, sub *subscription, out chan<- Event, turnID string) {
	defer close(out)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
			if isTerminalFor(event, turnID) {
				return
			}
		}
	}
}

func isTerminalFor(event Event, turnID string) bool {
	if event.Kind != EventTurnCompleted && event.Kind != EventTurnFailed {
		return false
	}
	return event.TurnID == "" || turnID == "" || event.TurnID == turnID
}

func (c *Client) startTurn(ctx context.Context, threadID, prompt string, opts ThreadOptions) (string, error) {
	params := turnStartParams(threadID, prompt, opts)
	var result struct {
		Turn struct {
			ID string `json:"id"`
		} `json:"turn"`
	}
	if err := c.request(ctx, "turn/start", params, &result); err != nil {
		if strings.TrimSpace(opts.Model) != "" && shouldRetryWithoutModel(err) {
			c.logger.Warn("turn_start_retry_without_model", logging.F("model", opts.Model), logging.Err(err))
			delete(params, "model")
			if retryErr := c.request(ctx, "turn/start", params, &result); retryErr != nil {
				return "", retryErr
			}
		} else {
			return "", err
		}
	}
	if strings.TrimSpace(result.Turn.ID) == "" {
		return "", errors.New("runtime returned no turn id")
	}
	return strings.TrimSpace(result.Turn.ID), nil
}
