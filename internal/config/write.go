package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is written on first login. Every setting other than the
// server URL is present as a commented-out default. Later edits are
// line-level so user modifications survive.
const configTemplate = `# resourcectl configuration

[server]
url = %q
# origin = ""
# tus_endpoint = "/api/tus"
# tus_enabled = true
# probe_tus = true
# route_prefix = "/files"

[transfers]
# chunk_size = "10MiB"
# retry_count = 5
# parallel_batch = 8
# parallel_uploads = 4
# verify_checksum = ""

[logging]
# log_level = "info"
# log_format = "auto"

[network]
# connect_timeout = "10s"
# user_agent = ""

[auth]
# token_file = ""
`

// CreateConfig writes a new config file from the template pointing at
// serverURL. Used on first login when no config file exists.
func CreateConfig(path, serverURL string, logger *slog.Logger) error {
	logger.Info("creating config file",
		slog.String("path", path),
		slog.String("server", serverURL),
	)

	return atomicWriteFile(path, []byte(fmt.Sprintf(configTemplate, serverURL)))
}

// SetKey sets key = value inside [section] of an existing config file. An
// existing key line (commented-out or not) is replaced; otherwise the key is
// inserted after the section header, and a missing section is appended.
// Booleans and integers are written bare; other values are quoted.
func SetKey(path, section, key, value string, logger *slog.Logger) error {
	logger.Info("setting config key",
		slog.String("path", path),
		slog.String("section", section),
		slog.String("key", key),
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)
	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(value))
	lines := strings.Split(content, "\n")

	headerLine := findSectionHeader(lines, section)
	if headerLine < 0 {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}

		content += fmt.Sprintf("\n[%s]\n%s\n", section, newLine)

		return atomicWriteFile(path, []byte(content))
	}

	lines = setKeyInSection(lines, headerLine, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader returns the line index of [section], or -1.
func findSectionHeader(lines []string, section string) int {
	header := "[" + section + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index of the next section header after
// headerLine, or len(lines).
func findSectionEnd(lines []string, headerLine int) int {
	for i := headerLine + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			return i
		}
	}

	return len(lines)
}

// setKeyInSection replaces an existing (possibly commented-out) key line or
// inserts a new one after the section header.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	end := findSectionEnd(lines, headerLine)

	for i := headerLine + 1; i < end; i++ {
		trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[i]), "#"))
		if strings.HasPrefix(trimmed, key+" ") || strings.HasPrefix(trimmed, key+"=") {
			lines[i] = newLine

			return lines
		}
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue writes booleans and integers bare, everything else quoted.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	if value != "" && strings.Trim(value, "0123456789") == "" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file next to path, then renames
// it into place. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
