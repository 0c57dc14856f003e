package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"conductor/internal/codex"
	"conductor/internal/logging"
	"conductor/internal/store"
	"conductor/internal/types"
)

func newTestSessions(t *testing.T) store.SessionStore {
	t.Helper()
	repo, err := store.NewBboltRepository(filepath.Join(t.TempDir(), "conductor.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo.Sessions()
}

func TestOpenThreadRecreatesMissingThread(t *testing.T) {
	t.Parallel()

	sessions := newTestSessions(t)
	session, err := sessions.Create(context.Background(), &types.Session{Title: "stale"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	stale := "th-stale"
	session, err = sessions.Update(context.Background(), session.ID, types.SessionPatch{ThreadID: &stale})
	if err != nil {
		t.Fatalf("seed thread id: %v", err)
	}

	thread := &fakeThread{id: "th-fresh"}
	client := &fakeClient{thread: thread, resumeErr: errors.New("no rollout found for thread id th-stale")}
	manager := newThreadManager("codex", t.TempDir(), nil, &fakeCredentials{key: "sk"}, sessions, logging.Nop())

	opened, created, err := manager.openThread(context.Background(), client, session, codex.ThreadOptions{}, codex.TurnSettings{}, false, 0)
	if err != nil {
		t.Fatalf("open thread: %v", err)
	}
	if !created {
		t.Fatalf("expected recreation after missing thread")
	}
	if opened.ID() != "th-fresh" {
		t.Fatalf("expected fresh thread, got %q", opened.ID())
	}
	if resumed := client.resumedIDs(); len(resumed) != 1 || resumed[0] != "th-stale" {
		t.Fatalf("expected resume attempt against stale id, got %v", resumed)
	}
	if session.ThreadID != "th-fresh" {
		t.Fatalf("expected in-memory session rebound, got %q", session.ThreadID)
	}
	stored, _, err := sessions.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.ThreadID != "th-fresh" {
		t.Fatalf("expected rebound thread id persisted, got %q", stored.ThreadID)
	}
}

func TestOpenThreadSurfacesResumeFailure(t *testing.T) {
	t.Parallel()

	sessions := newTestSessions(t)
	session, err := sessions.Create(context.Background(), &types.Session{Title: "flaky"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	threadID := "th-1"
	session, err = sessions.Update(context.Background(), session.ID, types.SessionPatch{ThreadID: &threadID})
	if err != nil {
		t.Fatalf("seed thread id: %v", err)
	}

	client := &fakeClient{thread: &fakeThread{id: "th-1"}, resumeErr: errors.New("connection reset")}
	manager := newThreadManager("codex", t.TempDir(), nil, &fakeCredentials{key: "sk"}, sessions, logging.Nop())

	_, _, err = manager.openThread(context.Background(), client, session, codex.ThreadOptions{}, codex.TurnSettings{}, false, 0)
	if err == nil {
		t.Fatalf("expected resume failure to surface")
	}
	if KindOf(err) != ErrorRuntime {
		t.Fatalf("expected runtime kind, got %s", KindOf(err))
	}
	if created := client.createdOptions(); len(created) != 0 {
		t.Fatalf("expected no recreation on transport failure, got %d", len(created))
	}
}

func TestOpenThreadClassifiesClosedClient(t *testing.T) {
	t.Parallel()

	sessions := newTestSessions(t)
	session, err := sessions.Create(context.Background(), &types.Session{Title: "gone"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	threadID := "th-1"
	session, err = sessions.Update(context.Background(), session.ID, types.SessionPatch{ThreadID: &threadID})
	if err != nil {
		t.Fatalf("seed thread id: %v", err)
	}

	client := &fakeClient{thread: &fakeThread{id: "th-1"}, resumeErr: codex.ErrClientClosed}
	manager := newThreadManager("codex", t.TempDir(), nil, &fakeCredentials{key: "sk"}, sessions, logging.Nop())

	_, _, err = manager.openThread(context.Background(), client, session, codex.ThreadOptions{}, codex.TurnSettings{}, false, 0)
	if KindOf(err) != ErrorUnavailable {
		t.Fatalf("expected unavailable kind for closed client, got %v", err)
	}
	if !errors.Is(err, codex.ErrClientClosed) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestIsMissingThreadError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "not found", err: errors.New("Thread Not Found: th-1"), want: true},
		{name: "not loaded", err: errors.New("thread not loaded"), want: true},
		{name: "no rollout", err: errors.New("rpc error -32603: no rollout found for thread id th-1"), want: true},
		{name: "other", err: errors.New("connection reset"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isMissingThreadError(tc.err); got != tc.want {
				t.Fatalf("expected %t, got %t", tc.want, got)
			}
		})
	}
}
