package types

import (
	"strings"
	"time"
)

// ApprovalPolicy is the runtime's rule for whether it must pause and ask
// before taking an action.
type ApprovalPolicy string

const (
	ApprovalUntrusted ApprovalPolicy = "untrusted"
	ApprovalOnRequest ApprovalPolicy = "on-request"
	ApprovalOnFailure ApprovalPolicy = "on-failure"
	ApprovalNever     ApprovalPolicy = "never"
)

// SandboxMode is the runtime's filesystem isolation level for the actions
// it takes inside a turn.
type SandboxMode string

const (
	SandboxReadOnly       SandboxMode = "read-only"
	SandboxWorkspaceWrite SandboxMode = "workspace-write"
	SandboxFullAccess     SandboxMode = "danger-full-access"
)

func NormalizeApprovalPolicy(raw ApprovalPolicy) (ApprovalPolicy, bool) {
	value := strings.ToLower(strings.TrimSpace(string(raw)))
	value = strings.ReplaceAll(value, "_", "-")
	switch ApprovalPolicy(value) {
	case ApprovalUntrusted, ApprovalOnRequest, ApprovalOnFailure, ApprovalNever:
		return ApprovalPolicy(value), true
	default:
		return "", false
	}
}

func NormalizeSandboxMode(raw SandboxMode) (SandboxMode, bool) {
	value := strings.ToLower(strings.TrimSpace(string(raw)))
	value = strings.ReplaceAll(value, "_", "-")
	switch value {
	case "read-only", "readonly":
		return SandboxReadOnly, true
	case "workspace-write", "workspacewrite":
		return SandboxWorkspaceWrite, true
	case "danger-full-access", "full-access", "fullaccess":
		return SandboxFullAccess, true
	default:
		return "", false
	}
}

// PermissionConfig is the per-session runtime policy. The zero value is not
// usable; DefaultPermissionConfig supplies the conservative baseline.
type PermissionConfig struct {
	ApprovalPolicy ApprovalPolicy `json:"approval_policy"`
	SandboxMode    SandboxMode    `json:"sandbox_mode"`
	NetworkAccess  bool           `json:"network_access"`
}

func DefaultPermissionConfig() PermissionConfig {
	return PermissionConfig{
		ApprovalPolicy: ApprovalOnRequest,
		SandboxMode:    SandboxWorkspaceWrite,
		NetworkAccess:  false,
	}
}

// Session is one durable conversation with the runtime. ThreadID stays empty
// until the first turn binds a remote thread; Model records the resolved
// model reported by the runtime, not the caller's hint.
type Session struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id,omitempty"`
	Title          string           `json:"title,omitempty"`
	RepoPath       string           `json:"repo_path,omitempty"`
	WorktreeBranch string           `json:"worktree_branch,omitempty"`
	WorktreePath   string           `json:"worktree_path,omitempty"`
	Permissions    PermissionConfig `json:"permissions"`
	ThreadID       string           `json:"thread_id,omitempty"`
	Model          string           `json:"model,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func CloneSession(in *Session) *Session {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

// SessionPatch carries the fields the engine is allowed to change on an
// existing session. Nil fields are left untouched.
type SessionPatch struct {
	Title        *string           `json:"title,omitempty"`
	WorktreePath *string           `json:"worktree_path,omitempty"`
	Permissions  *PermissionConfig `json:"permissions,omitempty"`
	ThreadID     *string           `json:"thread_id,omitempty"`
	Model        *string           `json:"model,omitempty"`
}
