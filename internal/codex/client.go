package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"conductor/internal/logging"
)

const (
	runtimeHomeEnv = "CODEX_HOME"
	apiKeyEnv      = "OPENAI_API_KEY"

	initializeTimeout = 5 * time.Second
)

// ErrClientClosed is returned for calls made after the runtime process has
// exited or Close was called.
var ErrClientClosed = errors.New("runtime client closed")

// Options configures one runtime process.
type Options struct {
	// Command is the runtime binary; it is invoked as `<command> app-server`.
	Command string
	// Dir is the working directory for the spawned process.
	Dir string
	// RuntimeHome points the runtime at the directory holding the
	// synthesized config artifact. The runtime reads it once at start.
	RuntimeHome string
	// APIKey is exported to the process environment when set.
	APIKey string
	// Env carries extra per-user environment variables.
	Env    map[string]string
	Logger logging.Logger
}

// Client speaks newline-delimited JSON-RPC to one runtime app-server
// process. It is safe for concurrent use: responses are routed to waiters
// by request id, and thread notifications fan out to per-thread
// subscriptions.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	logger logging.Logger

	writeMu sync.Mutex

	idMu   sync.Mutex
	nextID int

	pendingMu sync.Mutex
	pending   map[int]chan rpcMessage

	subMu   sync.Mutex
	subs    map[string][]*subscription
	nextSub int

	closeOnce sync.Once
	done      chan struct{}

	errMu   sync.Mutex
	exitErr error
}

type rpcMessage struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Start launches the runtime app-server and performs the initialize
// handshake. The returned client owns the process.
func Start(ctx context.Context, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	command := strings.TrimSpace(opts.Command)
	if command == "" {
		return nil, errors.New("runtime command is required")
	}
	cmd := exec.Command(command, "app-server")
	if strings.TrimSpace(opts.Dir) != "" {
		cmd.Dir = opts.Dir
	}
	env := os.Environ()
	if strings.TrimSpace(opts.RuntimeHome) != "" {
		env = append(env, runtimeHomeEnv+"="+strings.TrimSpace(opts.RuntimeHome))
	}
	if strings.TrimSpace(opts.APIKey) != "" {
		env = append(env, apiKeyEnv+"="+strings.TrimSpace(opts.APIKey))
	}
	for key, value := range opts.Env {
		if strings.TrimSpace(key) == "" {
			continue
		}
		env = append(env, key+"="+value)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() { _, _ = io.Copy(io.Discard, stderr) }()

	logger.Info("runtime_start",
		logging.F("cmd", command),
		logging.F("dir", opts.Dir),
		logging.F("runtime_home", opts.RuntimeHome),
	)

	client := &Client{
		cmd:     cmd,
		stdin:   stdin,
		reader:  bufio.NewReader(stdout),
		logger:  logger,
		nextID:  1,
		pending: make(map[int]chan rpcMessage),
		subs:    make(map[string][]*subscription),
		done:    make(chan struct{}),
	}
	go client.readLoop()

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()
	if err := client.initialize(initCtx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"clientInfo": map[string]any{
			"name":    "conductor",
			"title":   "Conductor",
			"version": "dev",
		},
	}
	if err := c.request(ctx, "initialize", params, nil); err != nil {
		return err
	}
	return c.notify("initialized", map[string]any{})
}

// Close terminates the runtime process. Pending requests fail with
// ErrClientClosed and open subscriptions are drained and closed.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		if c.exitErr == nil {
			c.exitErr = ErrClientClosed
		}
		c.errMu.Unlock()
		close(c.done)
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		if c.stdin != nil {
			_ = c.stdin.Close()
		}
		c.subMu.Lock()
		subs := c.subs
		c.subs = make(map[string][]*subscription)
		c.subMu.Unlock()
		for _, list := range subs {
			for _, sub := range list {
				sub.stop()
			}
		}
	})
}

// Closed reports whether the client can still serve requests.
func (c *Client) Closed() bool {
	if c == nil {
		return true
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) request(ctx context.Context, method string, params any, out any) error {
	if c == nil {
		return ErrClientClosed
	}
	id := c.nextRequestID()
	reply := make(chan rpcMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	start := time.Now()
	if c.logger.Enabled(logging.Debug) {
		c.logger.Debug("runtime_send", logging.F("request_id", id), logging.F("method", method))
	}
	if err := c.send(map[string]any{"method": method, "id": id, "params": params}); err != nil {
		c.logger.Error("runtime_send_error", logging.F("request_id", id), logging.F("method", method), logging.Err(err))
		return err
	}
	select {
	case <-ctx.Done():
		c.logger.Warn("runtime_timeout", logging.F("request_id", id), logging.F("method", method))
		return ctx.Err()
	case <-c.done:
		return c.exitError()
	case msg := <-reply:
		if c.logger.Enabled(logging.Debug) {
			c.logger.Debug("runtime_response",
				logging.F("request_id", id),
				logging.F("method", method),
				logging.F("latency_ms", time.Since(start).Milliseconds()),
			)
		}
		if msg.Error != nil {
			c.logger.Warn("runtime_rpc_error",
				logging.F("request_id", id),
				logging.F("method", method),
				logging.F("code", msg.Error.Code),
				logging.F("message", msg.Error.Message),
			)
			return fmt.Errorf("rpc error %d: %s", msg.Error.Code, msg.Error.Message)
		}
		if out != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, out); err != nil {
				c.logger.Error("runtime_unmarshal_error", logging.F("method", method), logging.Err(err))
				return err
			}
		}
		return nil
	}
}

func (c *Client) notify(method string, params any) error {
	return c.send(map[string]any{"method": method, "params": params})
}

func (c *Client) respondError(id int, code int, message string) error {
	return c.send(map[string]any{
		"id": id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func (c *Client) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.Closed() {
		return c.exitError()
	}
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

func (c *Client) nextRequestID() int {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

func (c *Client) exitError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.exitErr != nil {
		return c.exitErr
	}
	return ErrClientClosed
}

func (c *Client) readLoop() {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if !c.Closed() {
				c.logger.Error("runtime_read_error", logging.Err(err))
				c.errMu.Lock()
				c.exitErr = fmt.Errorf("runtime stream ended: %w", err)
				c.errMu.Unlock()
			}
			c.Close()
			return
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("runtime_parse_error", logging.Err(err))
			continue
		}
		switch {
		case msg.ID == nil:
			c.dispatchNotification(msg)
		case msg.Method != "":
			c.handleServerRequest(msg)
		default:
			c.dispatchResponse(msg)
		}
	}
}

func (c *Client) dispatchResponse(msg rpcMessage) {
	if msg.ID == nil {
		return
	}
	c.pendingMu.Lock()
	reply, ok := c.pending[*msg.ID]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Warn("runtime_orphan_response", logging.F("request_id", *msg.ID))
		return
	}
	select {
	case reply <- msg:
	default:
		// Duplicate response for an id; the first one already won.
	}
}

// handleServerRequest answers runtime-initiated requests. Conductor runs
// unattended, so interactive approval prompts are refused; sessions that
// need pauses should use an approval policy the runtime can satisfy on its
// own.
func (c *Client) handleServerRequest(msg rpcMessage) {
	c.logger.Warn("runtime_request_refused",
		logging.F("request_id", *msg.ID),
		logging.F("method", msg.Method),
	)
	_ = c.respondError(*msg.ID, -32601, "interactive requests are not supported")
}

func (c *Client) dispatchNotification(msg rpcMessage) {
	event, ok := decodeEvent(msg.Method, msg.Params)
	if !ok {
		if c.logger.Enabled(logging.Debug) {
			c.logger.Debug("runtime_event_skipped", logging.F("method", msg.Method))
		}
		return
	}
	if event.ThreadID == "" {
		return
	}
	c.subMu.Lock()
	subs := append([]*subscription(nil), c.subs[event.ThreadID]...)
	c.subMu.Unlock()
	for _, sub := range subs {
		sub.enqueue(event)
	}
}

// subscribe registers for a thread's events. Events are queued without loss
// and delivered in order; cancel releases the subscription.
func (c *Client) subscribe(threadID string) *subscription {
	sub := newSubscription(c, threadID)
	c.subMu.Lock()
	sub.id = c.nextSub
	c.nextSub++
	c.subs[threadID] = append(c.subs[threadID], sub)
	c.subMu.Unlock()
	if c.Closed() {
		sub.stop()
	}
	return sub
}

func (c *Client) unsubscribe(sub *subscription) {
	c.subMu.Lock()
	list := c.subs[sub.threadID]
	for i, candidate := range list {
		if candidate.id == sub.id {
			c.subs[sub.threadID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(c.subs[sub.threadID]) == 0 {
		delete(c.subs, sub.threadID)
	}
	c.subMu.Unlock()
	sub.stop()
}

// subscription buffers thread events between the read loop and a consumer.
// The queue is unbounded so a slow consumer never stalls the shared read
// loop, and nothing is dropped; the message log depends on every event.
type subscription struct {
	client   *Client
	threadID string
	id       int

	in  chan Event
	out chan Event

	mu     sync.Mutex
	closed bool
}

func newSubscription(client *Client, threadID string) *subscription {
	sub := &subscription{
		client:   client,
		threadID: threadID,
		in:       make(chan Event, 16),
		out:      make(chan Event),
	}
	go sub.pump()
	return sub
}

func (s *subscription) Events() <-chan Event {
	return s.out
}

func (s *subscription) Close() {
	s.client.unsubscribe(s)
}

func (s *subscription) enqueue(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.in <- event
}

func (s *subscription) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.in)
}

func (s *subscription) pump() {
	defer close(s.out)
	var queue []Event
	in := s.in
	for in != nil || len(queue) > 0 {
		var (
			sendCh chan Event
			next   Event
		)
		if len(queue) > 0 {
			sendCh = s.out
			next = queue[0]
		}
		select {
		case event, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, event)
		case sendCh <- next:
			queue = queue[1:]
		}
	}
}
