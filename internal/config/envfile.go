package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileVar names an extra env file read before the default locations.
const EnvFileVar = "DROK_ENV_FILE"

// envFileCandidates lists env files in load order: the explicit file, the
// drok home directory (DROK_HOME aware), then the user config directory.
func envFileCandidates() []string {
	var paths []string
	if explicit := strings.TrimSpace(os.Getenv(EnvFileVar)); explicit != "" {
		if p, err := expandHome(explicit); err == nil {
			paths = append(paths, p)
		}
	}
	if home, err := resolveHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ConfigDir, "env"),
			filepath.Join(home, ConfigDir, ".env"),
		)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "drok", "env"))
	}

	out := paths[:0]
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// LoadEnvFiles sets variables from every existing candidate env file and
// returns the files it read. Variables already in the process environment
// win, and so do values from earlier files.
func LoadEnvFiles() []string {
	var loaded []string
	for _, path := range envFileCandidates() {
		err := loadEnvFile(path)
		switch {
		case err == nil:
			loaded = append(loaded, path)
		case errors.Is(err, fs.ErrNotExist):
		default:
			slog.Warn("Failed to read env file", "path", path, "error", err)
		}
	}
	return loaded
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		key, val, ok := parseEnvLine(sc.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
	}
	return sc.Err()
}

// parseEnvLine reads one KEY=value line. Blank lines, comments and lines
// without a key are skipped.
func parseEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(val)), true
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
