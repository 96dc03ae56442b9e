package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// The binary embeds its config defaults, so it must start from any directory.
func TestBinaryRunsOutsideRepository(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-only exec test")
	}

	gomod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err)
	repoRoot := filepath.Dir(strings.TrimSpace(string(gomod)))

	binary := filepath.Join(t.TempDir(), "scaffoldir")
	build := exec.Command("go", "build", "-o", binary, "./cmd/scaffoldir")
	build.Dir = repoRoot
	out, err := build.CombinedOutput()
	require.NoError(t, err, string(out))

	workdir := t.TempDir()
	env := append(os.Environ(), "XDG_CONFIG_HOME="+workdir, "XDG_DATA_HOME="+workdir)

	for _, args := range [][]string{{"version"}, {"--help"}, {"scrape", "--help"}} {
		cmd := exec.Command(binary, args...)
		cmd.Dir = workdir
		cmd.Env = env
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "%v: %s", args, out)
	}
}
