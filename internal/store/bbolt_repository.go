package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"conductor/internal/types"
)

var (
	bucketSessions          = []byte("sessions")
	bucketMessages          = []byte("messages")
	bucketTasks             = []byte("tasks")
	bucketCapabilityServers = []byte("capability_servers")
)

type bboltRepository struct {
	db                *bolt.DB
	sessions          SessionStore
	messages          MessageStore
	tasks             TaskStore
	capabilityServers CapabilityServerStore
}

func NewBboltRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initBboltSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	repo := &bboltRepository{db: db}
	repo.sessions = &bboltSessionStore{db: db}
	repo.messages = &bboltMessageStore{db: db}
	repo.tasks = &bboltTaskStore{db: db}
	repo.capabilityServers = &bboltCapabilityServerStore{db: db}
	return repo, nil
}

func (r *bboltRepository) Sessions() SessionStore {
	return r.sessions
}

func (r *bboltRepository) Messages() MessageStore {
	return r.messages
}

func (r *bboltRepository) Tasks() TaskStore {
	return r.tasks
}

func (r *bboltRepository) CapabilityServers() CapabilityServerStore {
	return r.capabilityServers
}

func (r *bboltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initBboltSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSessions); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketTasks); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketCapabilityServers); err != nil {
			return err
		}
		return nil
	})
}

type bboltSessionStore struct {
	db *bolt.DB
	mu sync.Mutex
}

func (s *bboltSessionStore) Create(ctx context.Context, session *types.Session) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := normalizeSession(session)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return errors.New("sessions bucket missing")
		}
		key := []byte(normalized.ID)
		if b.Get(key) != nil {
			return errors.New("session already exists")
		}
		return b.Put(key, raw)
	}); err != nil {
		return nil, err
	}
	return types.CloneSession(normalized), nil
}

func (s *bboltSessionStore) Get(ctx context.Context, id string) (*types.Session, bool, error) {
	var (
		out *types.Session
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(id))
		if len(raw) == 0 {
			return nil
		}
		var session types.Session
		if err := json.Unmarshal(raw, &session); err != nil {
			return err
		}
		out = types.CloneSession(&session)
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltSessionStore) List(ctx context.Context) ([]*types.Session, error) {
	out := make([]*types.Session, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var session types.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return err
			}
			out = append(out, types.CloneSession(&session))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *bboltSessionStore) Update(ctx context.Context, id string, patch types.SessionPatch) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("session id is required")
	}
	var out *types.Session
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b == nil {
			return errors.New("sessions bucket missing")
		}
		key := []byte(id)
		current := b.Get(key)
		if len(current) == 0 {
			return ErrSessionNotFound
		}
		var session types.Session
		if err := json.Unmarshal(current, &session); err != nil {
			return err
		}
		applySessionPatch(&session, patch)
		session.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(&session)
		if err != nil {
			return err
		}
		if err := b.Put(key, raw); err != nil {
			return err
		}
		out = types.CloneSession(&session)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func applySessionPatch(session *types.Session, patch types.SessionPatch) {
	if patch.Title != nil {
		session.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.WorktreePath != nil {
		session.WorktreePath = strings.TrimSpace(*patch.WorktreePath)
	}
	if patch.Permissions != nil {
		session.Permissions = *patch.Permissions
	}
	if patch.ThreadID != nil {
		session.ThreadID = strings.TrimSpace(*patch.ThreadID)
	}
	if patch.Model != nil {
		session.Model = strings.TrimSpace(*patch.Model)
	}
}

type bboltMessageStore struct {
	db *bolt.DB
	mu sync.Mutex
}

func (s *bboltMessageStore) Create(ctx context.Context, message *types.Message) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := normalizeMessage(message)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if b == nil {
			return errors.New("messages bucket missing")
		}
		key := messageKey(normalized.SessionID, normalized.Index)
		if b.Get(key) != nil {
			return ErrMessageIndexConflict
		}
		return b.Put(key, raw)
	}); err != nil {
		return nil, err
	}
	return types.CloneMessage(normalized), nil
}

func (s *bboltMessageStore) CreateBatch(ctx context.Context, messages []*types.Message) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(messages) == 0 {
		return nil, nil
	}
	normalized := make([]*types.Message, 0, len(messages))
	seenIDs := map[string]struct{}{}
	seenKeys := map[string]struct{}{}
	for _, message := range messages {
		msg, err := normalizeMessage(message)
		if err != nil {
			return nil, err
		}
		if _, dup := seenIDs[msg.ID]; dup {
			return nil, errors.New("duplicate message id in batch: " + msg.ID)
		}
		seenIDs[msg.ID] = struct{}{}
		key := string(messageKey(msg.SessionID, msg.Index))
		if _, dup := seenKeys[key]; dup {
			return nil, ErrMessageIndexConflict
		}
		seenKeys[key] = struct{}{}
		normalized = append(normalized, msg)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if b == nil {
			return errors.New("messages bucket missing")
		}
		for _, msg := range normalized {
			key := messageKey(msg.SessionID, msg.Index)
			if b.Get(key) != nil {
				return ErrMessageIndexConflict
			}
		}
		for _, msg := range normalized {
			raw, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := b.Put(messageKey(msg.SessionID, msg.Index), raw); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	out := make([]*types.Message, 0, len(normalized))
	for _, msg := range normalized {
		out = append(out, types.CloneMessage(msg))
	}
	return out, nil
}

func (s *bboltMessageStore) ListBySession(ctx context.Context, sessionID string) ([]*types.Message, error) {
	out := make([]*types.Message, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if b == nil {
			return nil
		}
		prefix := messageSessionPrefix(sessionID)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var msg types.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			out = append(out, types.CloneMessage(&msg))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (s *bboltMessageStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		if b == nil {
			return nil
		}
		prefix := messageSessionPrefix(sessionID)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

type bboltTaskStore struct {
	db *bolt.DB
	mu sync.Mutex
}

func (s *bboltTaskStore) Create(ctx context.Context, task *types.Task) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := normalizeTask(task)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b == nil {
			return errors.New("tasks bucket missing")
		}
		key := []byte(normalized.ID)
		if b.Get(key) != nil {
			return errors.New("task already exists")
		}
		return b.Put(key, raw)
	}); err != nil {
		return nil, err
	}
	return types.CloneTask(normalized), nil
}

func (s *bboltTaskStore) Get(ctx context.Context, id string) (*types.Task, bool, error) {
	var (
		out *types.Task
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(id))
		if len(raw) == 0 {
			return nil
		}
		var task types.Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return err
		}
		out = types.CloneTask(&task)
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltTaskStore) List(ctx context.Context) ([]*types.Task, error) {
	out := make([]*types.Task, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			out = append(out, types.CloneTask(&task))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *bboltTaskStore) Update(ctx context.Context, id string, patch types.TaskPatch) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("task id is required")
	}
	var out *types.Task
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b == nil {
			return errors.New("tasks bucket missing")
		}
		key := []byte(id)
		current := b.Get(key)
		if len(current) == 0 {
			return ErrTaskNotFound
		}
		var task types.Task
		if err := json.Unmarshal(current, &task); err != nil {
			return err
		}
		if err := applyTaskPatch(&task, patch); err != nil {
			return err
		}
		task.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		if err := b.Put(key, raw); err != nil {
			return err
		}
		out = types.CloneTask(&task)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltTaskStore) AttachSession(ctx context.Context, taskID, sessionID string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskID = strings.TrimSpace(taskID)
	sessionID = strings.TrimSpace(sessionID)
	if taskID == "" || sessionID == "" {
		return nil, errors.New("task id and session id are required")
	}
	var out *types.Task
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b == nil {
			return errors.New("tasks bucket missing")
		}
		key := []byte(taskID)
		current := b.Get(key)
		if len(current) == 0 {
			return ErrTaskNotFound
		}
		var task types.Task
		if err := json.Unmarshal(current, &task); err != nil {
			return err
		}
		for _, id := range task.SessionIDs {
			if id == sessionID {
				out = types.CloneTask(&task)
				return nil
			}
		}
		task.SessionIDs = append(task.SessionIDs, sessionID)
		task.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		if err := b.Put(key, raw); err != nil {
			return err
		}
		out = types.CloneTask(&task)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func applyTaskPatch(task *types.Task, patch types.TaskPatch) error {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return errors.New("task title is required")
		}
		task.Title = title
	}
	if patch.Description != nil {
		task.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Status != nil {
		status, ok := types.NormalizeTaskStatus(*patch.Status)
		if !ok {
			return errors.New("invalid task status: " + string(*patch.Status))
		}
		task.Status = status
	}
	if patch.Model != nil {
		task.Model = strings.TrimSpace(*patch.Model)
	}
	return nil
}

type bboltCapabilityServerStore struct {
	db *bolt.DB
	mu sync.Mutex
}

func (s *bboltCapabilityServerStore) Upsert(ctx context.Context, server *types.CapabilityServer) (*types.CapabilityServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := normalizeCapabilityServer(server)
	if err != nil {
		return nil, err
	}
	var out *types.CapabilityServer
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCapabilityServers)
		if b == nil {
			return errors.New("capability servers bucket missing")
		}
		key := []byte(normalized.Name)
		if current := b.Get(key); len(current) > 0 {
			var existing types.CapabilityServer
			if err := json.Unmarshal(current, &existing); err != nil {
				return err
			}
			normalized.CreatedAt = existing.CreatedAt
		}
		normalized.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(normalized)
		if err != nil {
			return err
		}
		if err := b.Put(key, raw); err != nil {
			return err
		}
		out = types.CloneCapabilityServer(normalized)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltCapabilityServerStore) Get(ctx context.Context, name string) (*types.CapabilityServer, bool, error) {
	var (
		out *types.CapabilityServer
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCapabilityServers)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(strings.TrimSpace(name)))
		if len(raw) == 0 {
			return nil
		}
		var server types.CapabilityServer
		if err := json.Unmarshal(raw, &server); err != nil {
			return err
		}
		out = types.CloneCapabilityServer(&server)
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltCapabilityServerStore) List(ctx context.Context) ([]*types.CapabilityServer, error) {
	out := make([]*types.CapabilityServer, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCapabilityServers)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var server types.CapabilityServer
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			out = append(out, types.CloneCapabilityServer(&server))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *bboltCapabilityServerStore) ListEnabledForSession(ctx context.Context, sessionID string) ([]*types.CapabilityServer, error) {
	servers, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.CapabilityServer, 0, len(servers))
	for _, server := range servers {
		if !server.Enabled {
			continue
		}
		if !server.AppliesTo(sessionID) {
			continue
		}
		out = append(out, server)
	}
	return out, nil
}

func (s *bboltCapabilityServerStore) SetEnabled(ctx context.Context, name string, enabled bool) (*types.CapabilityServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("capability server name is required")
	}
	var out *types.CapabilityServer
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCapabilityServers)
		if b == nil {
			return errors.New("capability servers bucket missing")
		}
		key := []byte(name)
		current := b.Get(key)
		if len(current) == 0 {
			return ErrCapabilityServerNotFound
		}
		var server types.CapabilityServer
		if err := json.Unmarshal(current, &server); err != nil {
			return err
		}
		server.Enabled = enabled
		server.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(&server)
		if err != nil {
			return err
		}
		if err := b.Put(key, raw); err != nil {
			return err
		}
		out = types.CloneCapabilityServer(&server)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltCapabilityServerStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCapabilityServers)
		if b == nil {
			return errors.New("capability servers bucket missing")
		}
		key := []byte(strings.TrimSpace(name))
		if b.Get(key) == nil {
			return ErrCapabilityServerNotFound
		}
		return b.Delete(key)
	})
}

// messageKey builds the composite key for one message. The index is zero
// padded so a prefix cursor walks messages in log order.
func messageKey(sessionID string, index int) []byte {
	return []byte(sessionID + "\x00" + fmt.Sprintf("%012d", index))
}

func messageSessionPrefix(sessionID string) []byte {
	return []byte(sessionID + "\x00")
}

func normalizeSession(session *types.Session) (*types.Session, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	out := types.CloneSession(session)
	out.ID = strings.TrimSpace(out.ID)
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.UserID = strings.TrimSpace(out.UserID)
	out.Title = strings.TrimSpace(out.Title)
	out.RepoPath = strings.TrimSpace(out.RepoPath)
	out.WorktreeBranch = strings.TrimSpace(out.WorktreeBranch)
	out.WorktreePath = strings.TrimSpace(out.WorktreePath)
	if out.Permissions.ApprovalPolicy == "" && out.Permissions.SandboxMode == "" {
		out.Permissions = types.DefaultPermissionConfig()
	}
	now := time.Now().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out, nil
}

func normalizeMessage(message *types.Message) (*types.Message, error) {
	if message == nil {
		return nil, errors.New("message is required")
	}
	out := types.CloneMessage(message)
	out.SessionID = strings.TrimSpace(out.SessionID)
	if out.SessionID == "" {
		return nil, errors.New("message session id is required")
	}
	if out.Role != types.RoleUser && out.Role != types.RoleAssistant {
		return nil, errors.New("invalid message role: " + string(out.Role))
	}
	if out.Index < 0 {
		return nil, errors.New("message index must not be negative")
	}
	out.ID = strings.TrimSpace(out.ID)
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	return out, nil
}

func normalizeTask(task *types.Task) (*types.Task, error) {
	if task == nil {
		return nil, errors.New("task is required")
	}
	out := types.CloneTask(task)
	out.Title = strings.TrimSpace(out.Title)
	if out.Title == "" {
		return nil, errors.New("task title is required")
	}
	out.ID = strings.TrimSpace(out.ID)
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Status == "" {
		out.Status = types.TaskStatusTodo
	} else {
		status, ok := types.NormalizeTaskStatus(out.Status)
		if !ok {
			return nil, errors.New("invalid task status: " + string(out.Status))
		}
		out.Status = status
	}
	now := time.Now().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out, nil
}

func normalizeCapabilityServer(server *types.CapabilityServer) (*types.CapabilityServer, error) {
	if server == nil {
		return nil, errors.New("capability server is required")
	}
	out := types.CloneCapabilityServer(server)
	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		return nil, errors.New("capability server name is required")
	}
	out.Transport = strings.ToLower(strings.TrimSpace(out.Transport))
	out.Command = strings.TrimSpace(out.Command)
	out.URL = strings.TrimSpace(out.URL)
	if out.EffectiveTransport() == types.TransportStdio && out.Command == "" {
		return nil, errors.New("capability server command is required for stdio transport")
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	return out, nil
}
