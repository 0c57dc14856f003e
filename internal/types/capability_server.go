package types

import "time"

// TransportStdio is the only capability-server transport the runtime can
// launch itself. Entries with any other transport are filtered out before
// config synthesis.
const TransportStdio = "stdio"

// CapabilityServer describes an external tool provider the runtime may call
// during a turn. An empty Sessions list scopes the server to every session.
type CapabilityServer struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Enabled   bool              `json:"enabled"`
	Sessions  []string          `json:"sessions,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// EffectiveTransport treats an unset transport as stdio.
func (s *CapabilityServer) EffectiveTransport() string {
	if s == nil || s.Transport == "" {
		return TransportStdio
	}
	return s.Transport
}

func (s *CapabilityServer) AppliesTo(sessionID string) bool {
	if s == nil {
		return false
	}
	if len(s.Sessions) == 0 {
		return true
	}
	for _, id := range s.Sessions {
		if id == sessionID {
			return true
		}
	}
	return false
}

func CloneCapabilityServer(in *CapabilityServer) *CapabilityServer {
	if in == nil {
		return nil
	}
	out := *in
	if in.Args != nil {
		out.Args = make([]string, len(in.Args))
		copy(out.Args, in.Args)
	}
	if in.Env != nil {
		out.Env = make(map[string]string, len(in.Env))
		for key, value := range in.Env {
			out.Env[key] = value
		}
	}
	if in.Sessions != nil {
		out.Sessions = make([]string, len(in.Sessions))
		copy(out.Sessions, in.Sessions)
	}
	return &out
}
