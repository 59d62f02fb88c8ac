package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the live-server e2e tests.
const (
	EnvE2EServer   = "RESOURCECTL_E2E_SERVER"
	EnvE2EUser     = "RESOURCECTL_E2E_USER"
	EnvE2EPassword = "RESOURCECTL_E2E_PASSWORD"
	EnvE2EAllowed  = "RESOURCECTL_ALLOWED_TEST_SERVERS"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process unless the server named by
// EnvE2EServer is listed in EnvE2EAllowed. E2E tests create and delete
// files, so they must never run against a server by accident.
func ValidateAllowlist() string {
	allowlist := os.Getenv(EnvE2EAllowed)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvE2EAllowed)
		fmt.Fprintln(os.Stderr, "Set it in .env or as an environment variable.")
		fmt.Fprintf(os.Stderr, "Example: %s=http://localhost:8080\n", EnvE2EAllowed)
		os.Exit(1)
	}

	server := strings.TrimSuffix(os.Getenv(EnvE2EServer), "/")
	if server == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvE2EServer)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSuffix(strings.TrimSpace(a), "/") == server {
			return server
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n", EnvE2EServer, server, EnvE2EAllowed, allowlist)
	os.Exit(1)

	return ""
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
