package codex

import "strings"

func threadStartParams(opts ThreadOptions) map[string]any {
	params := map[string]any{}
	if cwd := strings.TrimSpace(opts.Cwd); cwd != "" {
		params["cwd"] = cwd
	}
	if model := strings.TrimSpace(opts.Model); model != "" {
		params["model"] = model
	}
	if policy := strings.TrimSpace(opts.ApprovalPolicy); policy != "" {
		params["approvalPolicy"] = policy
	}
	if sandbox := strings.TrimSpace(opts.SandboxMode); sandbox != "" {
		params["sandbox"] = sandbox
	}
	return params
}

func turnStartParams(threadID, prompt string, opts ThreadOptions) map[string]any {
	params := map[string]any{
		"threadId": threadID,
		"input": []map[string]any{
			{"type": "text", "text": prompt},
		},
	}
	if model := strings.TrimSpace(opts.Model); model != "" {
		params["model"] = model
	}
	if policy := strings.TrimSpace(opts.ApprovalPolicy); policy != "" {
		params["approvalPolicy"] = policy
	}
	if sandbox := strings.TrimSpace(opts.SandboxMode); sandbox != "" {
		params["sandboxPolicy"] = map[string]any{"type": sandboxTurnType(sandbox)}
	}
	return params
}

func threadSettingsParams(threadID string, settings TurnSettings) map[string]any {
	params := map[string]any{"threadId": threadID}
	if policy := strings.TrimSpace(settings.ApprovalPolicy); policy != "" {
		params["approvalPolicy"] = policy
	}
	if sandbox := strings.TrimSpace(settings.SandboxMode); sandbox != "" {
		policy := map[string]any{"type": sandboxTurnType(sandbox)}
		if settings.NetworkAccess != nil {
			policy["networkAccess"] = *settings.NetworkAccess
		}
		params["sandboxPolicy"] = policy
	}
	return params
}

// Thread creation takes the kebab-case sandbox name; turn-level policies use
// the camelCase variant. The runtime accepts nothing else.
func sandboxTurnType(raw string) string {
	switch strings.TrimSpace(raw) {
	case "workspace-write":
		return "workspaceWrite"
	case "read-only":
		return "readOnly"
	case "danger-full-access":
		return "dangerFullAccess"
	default:
		return raw
	}
}

func shouldRetryWithoutModel(err error) bool {
	if err == nil {
		return false
	}
	raw := strings.ToLower(strings.TrimSpace(err.Error()))
	if raw == "" {
		return false
	}
	if strings.Contains(raw, "invalid params") {
		return true
	}
	if strings.Contains(raw, "unknown") && strings.Contains(raw, "model") {
		return true
	}
	if strings.Contains(raw, "unsupported") && strings.Contains(raw, "model") {
		return true
	}
	if strings.Contains(raw, "unrecognized") && strings.Contains(raw, "model") {
		return true
	}
	return false
}
