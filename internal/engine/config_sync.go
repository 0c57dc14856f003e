package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"conductor/internal/logging"
	"conductor/internal/store"
	"conductor/internal/types"
)

const (
	configKeyApprovalPolicy = "approval_policy"
	configKeySandbox        = "sandbox"
	configKeyNetworkAccess  = "network_access"
	configKeyServers        = "capability_servers"
	configKeyManifest       = "managed_servers"
)

// configSynthesizer owns the runtime's out-of-band configuration artifact.
// It rewrites the artifact only when the owned content actually changes and
// signals onChange so the cached runtime client is recreated; the runtime
// reads the artifact once at process start.
type configSynthesizer struct {
	servers  store.CapabilityServerStore
	path     string
	logger   logging.Logger
	onChange func()

	mu       sync.Mutex
	lastHash string
}

func newConfigSynthesizer(servers store.CapabilityServerStore, path string, logger logging.Logger, onChange func()) *configSynthesizer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &configSynthesizer{
		servers:  servers,
		path:     path,
		logger:   logger,
		onChange: onChange,
	}
}

// ensure brings the artifact in line with the requested policy and the
// session's enabled capability servers. It returns the number of servers
// applied. Write failures are logged and never abort the caller's prompt;
// the turn proceeds on the previous configuration.
func (c *configSynthesizer) ensure(ctx context.Context, policy types.ApprovalPolicy, networkAccess bool, sessionID string) int {
	servers := c.enabledServers(ctx, sessionID)
	hash := configHash(policy, networkAccess, servers)

	c.mu.Lock()
	defer c.mu.Unlock()
	if hash == c.lastHash {
		return len(servers)
	}

	if err := c.write(policy, networkAccess, servers); err != nil {
		c.logger.Error("runtime_config_write_error",
			logging.F("path", c.path),
			logging.Err(err),
		)
		return len(servers)
	}
	c.lastHash = hash
	c.logger.Info("runtime_config_written",
		logging.F("path", c.path),
		logging.F("approval_policy", string(policy)),
		logging.F("network_access", networkAccess),
		logging.F("servers", len(servers)),
	)
	if c.onChange != nil {
		c.onChange()
	}
	return len(servers)
}

// enabledServers fetches the session's servers and keeps only transports
// the runtime can launch. Unsupported transports are reported and skipped
// rather than failing the prompt.
func (c *configSynthesizer) enabledServers(ctx context.Context, sessionID string) []*types.CapabilityServer {
	if c.servers == nil {
		return nil
	}
	all, err := c.servers.ListEnabledForSession(ctx, sessionID)
	if err != nil {
		c.logger.Error("capability_server_list_error", logging.F("session_id", sessionID), logging.Err(err))
		return nil
	}
	supported := make([]*types.CapabilityServer, 0, len(all))
	skipped := 0
	for _, server := range all {
		if server == nil {
			continue
		}
		if server.EffectiveTransport() != types.TransportStdio {
			skipped++
			continue
		}
		supported = append(supported, server)
	}
	if skipped > 0 {
		c.logger.Warn("capability_server_transport_skipped",
			logging.F("session_id", sessionID),
			logging.F("skipped", skipped),
		)
	}
	sort.Slice(supported, func(i, j int) bool { return supported[i].Name < supported[j].Name })
	return supported
}

func configHash(policy types.ApprovalPolicy, networkAccess bool, servers []*types.CapabilityServer) string {
	h := sha256.New()
	fmt.Fprintf(h, "policy=%s\nnetwork=%t\n", policy, networkAccess)
	for _, server := range servers {
		fmt.Fprintf(h, "server=%s cmd=%s args=%s\n", server.Name, server.Command, strings.Join(server.Args, "\x1f"))
		keys := make([]string, 0, len(server.Env))
		for key := range server.Env {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(h, "env=%s=%s\n", key, server.Env[key])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// write upserts only the keys this subsystem owns. Entries listed in the
// manifest from a previous write are replaced or removed; everything else
// in the artifact is preserved for whoever put it there.
func (c *configSynthesizer) write(policy types.ApprovalPolicy, networkAccess bool, servers []*types.CapabilityServer) error {
	doc, err := readTOMLDocument(c.path)
	if err != nil {
		c.logger.Warn("runtime_config_read_error", logging.F("path", c.path), logging.Err(err))
		doc = map[string]any{}
	}

	doc[configKeyApprovalPolicy] = string(policy)

	sandbox, _ := doc[configKeySandbox].(map[string]any)
	if sandbox == nil {
		sandbox = map[string]any{}
	}
	sandbox[configKeyNetworkAccess] = networkAccess
	doc[configKeySandbox] = sandbox

	entries, _ := doc[configKeyServers].(map[string]any)
	if entries == nil {
		entries = map[string]any{}
	}
	for _, name := range previousManifest(doc) {
		delete(entries, name)
	}
	manifest := make([]string, 0, len(servers))
	for _, server := range servers {
		entries[server.Name] = serverEntry(server)
		manifest = append(manifest, server.Name)
	}
	if len(entries) > 0 {
		doc[configKeyServers] = entries
	} else {
		delete(doc, configKeyServers)
	}
	doc[configKeyManifest] = manifest

	return writeTOMLAtomic(c.path, doc)
}

func serverEntry(server *types.CapabilityServer) map[string]any {
	entry := map[string]any{"command": server.Command}
	if len(server.Args) > 0 {
		entry["args"] = server.Args
	}
	if len(server.Env) > 0 {
		env := make(map[string]any, len(server.Env))
		for key, value := range server.Env {
			env[key] = value
		}
		entry["env"] = env
	}
	return entry
}

func previousManifest(doc map[string]any) []string {
	raw, ok := doc[configKeyManifest]
	if !ok {
		return nil
	}
	var names []string
	switch list := raw.(type) {
	case []string:
		names = append(names, list...)
	case []any:
		for _, item := range list {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

func readTOMLDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	doc := map[string]any{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func writeTOMLAtomic(path string, doc map[string]any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	file, err := os.CreateTemp(dir, ".tmp-*.toml")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(file.Name())
	}()

	data, err := toml.Marshal(doc)
	if err != nil {
		_ = file.Close()
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(file.Name(), path)
}
