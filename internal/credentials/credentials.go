package credentials

import (
	"os"
	"strings"

	"github.com/joho/godotenv"

	"conductor/internal/config"
	"conductor/internal/logging"
)

const envPrefix = "CONDUCTOR_"

// Resolver supplies runtime credentials and per-user environment variables.
type Resolver interface {
	// APIKey resolves the key for a provider, optionally scoped to a user.
	// ok is false when no key is configured anywhere.
	APIKey(providerKey, userID string) (string, bool)
	// UserEnvironment returns extra environment variables for the user's
	// runtime processes. A user without an environment file gets nil.
	UserEnvironment(userID string) map[string]string
}

// FileResolver reads keys from the process environment first, then from
// dotenv files under the data directory.
//
// Lookup order for provider "openai":
// 1) CONDUCTOR_OPENAI_API_KEY
// 2) OPENAI_API_KEY
// 3) ~/.conductor/users/<id>.env
// 4) ~/.conductor/credentials.env
type FileResolver struct {
	logger logging.Logger
}

func NewFileResolver(logger logging.Logger) *FileResolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileResolver{logger: logger}
}

func (r *FileResolver) APIKey(providerKey, userID string) (string, bool) {
	names := keyNames(providerKey)
	if len(names) == 0 {
		return "", false
	}
	for _, name := range names {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key, true
		}
	}
	for _, values := range r.dotenvSources(userID) {
		for _, name := range names {
			if key := strings.TrimSpace(values[name]); key != "" {
				return key, true
			}
		}
	}
	return "", false
}

func (r *FileResolver) UserEnvironment(userID string) map[string]string {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	path, err := config.UserEnvPath(userID)
	if err != nil {
		return nil
	}
	values := readDotenv(path, r.logger)
	if len(values) == 0 {
		return nil
	}
	return values
}

func (r *FileResolver) dotenvSources(userID string) []map[string]string {
	var sources []map[string]string
	if strings.TrimSpace(userID) != "" {
		if path, err := config.UserEnvPath(userID); err == nil {
			if values := readDotenv(path, r.logger); len(values) > 0 {
				sources = append(sources, values)
			}
		}
	}
	if path, err := config.CredentialsPath(); err == nil {
		if values := readDotenv(path, r.logger); len(values) > 0 {
			sources = append(sources, values)
		}
	}
	return sources
}

func keyNames(providerKey string) []string {
	provider := strings.ToUpper(strings.TrimSpace(providerKey))
	provider = strings.ReplaceAll(provider, "-", "_")
	if provider == "" {
		return nil
	}
	base := provider + "_API_KEY"
	return []string{envPrefix + base, base}
}

// readDotenv tolerates missing files; anything else is logged and treated
// as an empty file.
func readDotenv(path string, logger logging.Logger) map[string]string {
	values, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("credentials_read_error", logging.F("path", path), logging.Err(err))
		}
		return nil
	}
	return values
}
