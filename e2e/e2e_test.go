//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/resourcectl/testutil"
)

var (
	binaryPath string
	server     string
	isolated   string
)

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))
	server = testutil.ValidateAllowlist()

	tmpDir, err := os.MkdirTemp("", "resourcectl-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "resourcectl")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.Exit(1)
	}

	// Keep config, token, and session database out of the real home.
	isolated = filepath.Join(tmpDir, "home")
	os.Setenv("HOME", isolated)
	os.Setenv("XDG_CONFIG_HOME", filepath.Join(isolated, "config"))
	os.Setenv("XDG_DATA_HOME", filepath.Join(isolated, "data"))

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func runCLIWithInput(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, append([]string{"--server", server}, args...)...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := runCLIWithInput(t, "", args...)
	if err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

func login(t *testing.T) {
	t.Helper()

	user := os.Getenv(testutil.EnvE2EUser)
	if user == "" {
		return
	}

	_, stderr, err := runCLIWithInput(t, os.Getenv(testutil.EnvE2EPassword)+"\n",
		"login", "-u", user, "--password-stdin")
	require.NoError(t, err, stderr)
}

func TestE2E_RoundTrip(t *testing.T) {
	login(t)

	folder := fmt.Sprintf("/resourcectl-e2e-%d", time.Now().UnixNano())
	content := []byte("Hello from the resourcectl E2E test!\n")

	t.Cleanup(func() {
		_, _, _ = runCLIWithInput(t, "", "rm", folder)
	})

	local := filepath.Join(t.TempDir(), "test.txt")
	require.NoError(t, os.WriteFile(local, content, 0o644))

	t.Run("mkdir", func(t *testing.T) {
		runCLI(t, "mkdir", folder+"/sub")
	})

	t.Run("put", func(t *testing.T) {
		stdout, _ := runCLI(t, "--json", "put", local, folder+"/test.txt")

		var out []map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		require.Len(t, out, 1)
		assert.Empty(t, out[0]["error"])
	})

	t.Run("put_conflict", func(t *testing.T) {
		_, _, err := runCLIWithInput(t, "", "put", local, folder+"/test.txt")
		require.Error(t, err)

		runCLI(t, "put", "--overwrite", local, folder+"/test.txt")
	})

	t.Run("ls", func(t *testing.T) {
		stdout, _ := runCLI(t, "ls", folder)
		assert.Contains(t, stdout, "sub/")
		assert.Contains(t, stdout, "test.txt")
	})

	t.Run("checksum_and_get", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "downloaded.txt")
		runCLI(t, "get", "--verify", "sha256", folder+"/test.txt", dest)

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("cp_mv_rm", func(t *testing.T) {
		runCLI(t, "cp", folder+"/test.txt", folder+"/sub/")
		runCLI(t, "mv", folder+"/sub/test.txt", folder+"/sub/moved.txt")

		stdout, _ := runCLI(t, "ls", folder+"/sub")
		assert.Contains(t, stdout, "moved.txt")

		runCLI(t, "rm", folder+"/sub/moved.txt")
	})
}
