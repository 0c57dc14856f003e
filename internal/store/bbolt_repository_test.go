package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"conductor/internal/types"
)

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	repo, err := NewBboltRepository(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBboltRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestBboltSessionStoreCRUD(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Sessions().Create(ctx, &types.Session{
		Title:    "fix flaky test",
		RepoPath: "/tmp/repo",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated session id")
	}
	if created.Permissions.ApprovalPolicy != types.ApprovalOnRequest {
		t.Fatalf("expected default approval policy, got %q", created.Permissions.ApprovalPolicy)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be stamped")
	}

	loaded, ok, err := repo.Sessions().Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !ok || loaded.Title != "fix flaky test" {
		t.Fatalf("unexpected session: %#v", loaded)
	}

	threadID := "thread-77"
	updated, err := repo.Sessions().Update(ctx, created.ID, types.SessionPatch{ThreadID: &threadID})
	if err != nil {
		t.Fatalf("update session: %v", err)
	}
	if updated.ThreadID != "thread-77" {
		t.Fatalf("unexpected thread id: %q", updated.ThreadID)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("update must preserve created at")
	}

	if _, err := repo.Sessions().Update(ctx, "missing", types.SessionPatch{ThreadID: &threadID}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	sessions, err := repo.Sessions().List(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("unexpected session count: %d", len(sessions))
	}
}

func TestBboltMessageStoreOrdering(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Messages().Create(ctx, &types.Message{
			SessionID: "sess-1",
			Role:      types.RoleAssistant,
			Index:     i,
			Content:   []types.ContentBlock{types.TextBlock("msg")},
		})
		if err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
	}
	// Another session's log must not leak into the scan.
	if _, err := repo.Messages().Create(ctx, &types.Message{
		SessionID: "sess-2",
		Role:      types.RoleUser,
		Index:     0,
		Content:   []types.ContentBlock{types.TextBlock("other")},
	}); err != nil {
		t.Fatalf("create other session message: %v", err)
	}

	messages, err := repo.Messages().ListBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("unexpected message count: %d", len(messages))
	}
	for i, msg := range messages {
		if msg.Index != i {
			t.Fatalf("expected index %d at position %d, got %d", i, i, msg.Index)
		}
	}

	count, err := repo.Messages().CountBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 3 {
		t.Fatalf("unexpected count: %d", count)
	}
}

func TestBboltMessageStoreIndexConflict(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first := &types.Message{
		SessionID: "sess-1",
		Role:      types.RoleUser,
		Index:     0,
		Content:   []types.ContentBlock{types.TextBlock("hello")},
	}
	if _, err := repo.Messages().Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Messages().Create(ctx, first); !errors.Is(err, ErrMessageIndexConflict) {
		t.Fatalf("expected ErrMessageIndexConflict, got %v", err)
	}
}

func TestBboltMessageStoreBatchRejectsDuplicates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	batch := []*types.Message{
		{ID: "m-1", SessionID: "sess-1", Role: types.RoleUser, Index: 0, Content: []types.ContentBlock{types.TextBlock("a")}},
		{ID: "m-1", SessionID: "sess-1", Role: types.RoleAssistant, Index: 1, Content: []types.ContentBlock{types.TextBlock("b")}},
	}
	if _, err := repo.Messages().CreateBatch(ctx, batch); err == nil {
		t.Fatalf("expected duplicate id rejection")
	}
	count, err := repo.Messages().CountBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rejected batch to write nothing, got %d", count)
	}

	ok := []*types.Message{
		{SessionID: "sess-1", Role: types.RoleUser, Index: 0, Content: []types.ContentBlock{types.TextBlock("a")}},
		{SessionID: "sess-1", Role: types.RoleAssistant, Index: 1, Content: []types.ContentBlock{types.TextBlock("b")}},
	}
	created, err := repo.Messages().CreateBatch(ctx, ok)
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("unexpected batch result: %d", len(created))
	}
}

func TestBboltMessageStoreBatchRejectsStoredConflict(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.Messages().Create(ctx, &types.Message{
		SessionID: "sess-1",
		Role:      types.RoleUser,
		Index:     1,
		Content:   []types.ContentBlock{types.TextBlock("existing")},
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	batch := []*types.Message{
		{SessionID: "sess-1", Role: types.RoleAssistant, Index: 0, Content: []types.ContentBlock{types.TextBlock("new")}},
		{SessionID: "sess-1", Role: types.RoleAssistant, Index: 1, Content: []types.ContentBlock{types.TextBlock("collides")}},
	}
	if _, err := repo.Messages().CreateBatch(ctx, batch); !errors.Is(err, ErrMessageIndexConflict) {
		t.Fatalf("expected ErrMessageIndexConflict, got %v", err)
	}
	count, err := repo.Messages().CountBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected conflicting batch to write nothing, got %d", count)
	}
}

func TestBboltTaskStore(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	task, err := repo.Tasks().Create(ctx, &types.Task{Title: "Ship feature"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != types.TaskStatusTodo {
		t.Fatalf("expected default status todo, got %q", task.Status)
	}

	status := types.TaskStatusInProgress
	model := "gpt-5.1-codex"
	updated, err := repo.Tasks().Update(ctx, task.ID, types.TaskPatch{Status: &status, Model: &model})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if updated.Status != types.TaskStatusInProgress || updated.Model != model {
		t.Fatalf("unexpected task after update: %#v", updated)
	}

	attached, err := repo.Tasks().AttachSession(ctx, task.ID, "sess-1")
	if err != nil {
		t.Fatalf("attach session: %v", err)
	}
	if len(attached.SessionIDs) != 1 || attached.SessionIDs[0] != "sess-1" {
		t.Fatalf("unexpected session ids: %#v", attached.SessionIDs)
	}
	// Attaching twice stays idempotent.
	attached, err = repo.Tasks().AttachSession(ctx, task.ID, "sess-1")
	if err != nil {
		t.Fatalf("attach session again: %v", err)
	}
	if len(attached.SessionIDs) != 1 {
		t.Fatalf("expected idempotent attach, got %#v", attached.SessionIDs)
	}

	if _, err := repo.Tasks().Update(ctx, "missing", types.TaskPatch{Status: &status}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestBboltCapabilityServerStore(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.CapabilityServers().Upsert(ctx, &types.CapabilityServer{
		Name:    "github",
		Command: "github-mcp",
		Enabled: true,
	}); err != nil {
		t.Fatalf("upsert github: %v", err)
	}
	if _, err := repo.CapabilityServers().Upsert(ctx, &types.CapabilityServer{
		Name:     "jira",
		Command:  "jira-mcp",
		Enabled:  true,
		Sessions: []string{"sess-9"},
	}); err != nil {
		t.Fatalf("upsert jira: %v", err)
	}
	if _, err := repo.CapabilityServers().Upsert(ctx, &types.CapabilityServer{
		Name:    "disabled",
		Command: "noop",
		Enabled: false,
	}); err != nil {
		t.Fatalf("upsert disabled: %v", err)
	}

	enabled, err := repo.CapabilityServers().ListEnabledForSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "github" {
		t.Fatalf("unexpected enabled servers: %#v", enabled)
	}

	enabled, err = repo.CapabilityServers().ListEnabledForSession(ctx, "sess-9")
	if err != nil {
		t.Fatalf("list enabled for scoped session: %v", err)
	}
	if len(enabled) != 2 {
		t.Fatalf("expected github and jira for sess-9, got %#v", enabled)
	}

	if _, err := repo.CapabilityServers().SetEnabled(ctx, "disabled", true); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	server, ok, err := repo.CapabilityServers().Get(ctx, "disabled")
	if err != nil || !ok {
		t.Fatalf("get server: ok=%t err=%v", ok, err)
	}
	if !server.Enabled {
		t.Fatalf("expected server enabled after SetEnabled")
	}

	if err := repo.CapabilityServers().Delete(ctx, "disabled"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.CapabilityServers().Delete(ctx, "disabled"); !errors.Is(err, ErrCapabilityServerNotFound) {
		t.Fatalf("expected ErrCapabilityServerNotFound, got %v", err)
	}

	if _, err := repo.CapabilityServers().Upsert(ctx, &types.CapabilityServer{Name: "broken"}); err == nil {
		t.Fatalf("expected stdio server without command to be rejected")
	}
}
