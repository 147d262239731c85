package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/JakeFAU/novel-crawler/internal/lock"
	"github.com/JakeFAU/novel-crawler/internal/storage/sqlite"
)

type testEnv struct {
	dir     string
	config  string
	dbPath  string
	lock    string
	catalog string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:     dir,
		config:  filepath.Join(dir, "config.yaml"),
		dbPath:  filepath.Join(dir, "novels.db"),
		lock:    filepath.Join(dir, "run.lock"),
		catalog: filepath.Join(dir, "catalog.json"),
	}
	yaml := fmt.Sprintf(`logging:
  level: error
db:
  driver: sqlite
  dsn: %q
storage:
  backend: none
lock:
  path: %q
orchestrator:
  novel_delay_min: 0s
  novel_delay_max: 0s
  chapter_delay_min: 0s
  chapter_delay_max: 0s
`, env.dbPath, env.lock)
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o600))
	return env
}

func execute(t *testing.T, env testEnv, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", env.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAddQueuesNovelsOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	out, err := execute(t, env, "", "add",
		"https://site.test/novel/1",
		"https://site.test/novel/2",
		"https://site.test/novel/1",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "added 2 of 3 novels")

	store, err := sqlite.Open(context.Background(), env.dbPath)
	require.NoError(t, err)
	defer store.Close()
	pending, err := store.ListPendingNovels(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "https://site.test/novel/1", pending[0].URL)
}

func TestAddReadsURLFile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	out, err := execute(t, env, "# seeds\nhttps://site.test/novel/7\n\nhttps://site.test/novel/8\n", "add", "--file", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "added 2 of 2 novels")
}

func TestAddRejectsInvalidURLs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := execute(t, env, "", "add", "ftp://site.test/novel/1")
	require.ErrorContains(t, err, "invalid novel url")

	_, err = execute(t, env, "", "add")
	require.ErrorContains(t, err, "no urls")
}

func TestRunWithNothingPending(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, sub := range []string{"run", "novels", "chapters"} {
		_, err := execute(t, env, "", sub)
		require.NoError(t, err, sub)
	}
}

func TestRunRefusesWhenLockHeld(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	held, err := lock.Acquire(env.lock)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	_, err = execute(t, env, "", "run")
	require.ErrorIs(t, err, lock.ErrHeld)
}

func TestCatalogThenDecode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	fontPath := filepath.Join(env.dir, "reference.ttf")
	require.NoError(t, os.WriteFile(fontPath, goregular.TTF, 0o600))

	_, err := execute(t, env, "", "catalog", fontPath, "-o", env.catalog)
	require.NoError(t, err)
	require.FileExists(t, env.catalog)

	out, err := execute(t, env, "", "decode", "--font", fontPath, "--catalog", env.catalog, "Nova")
	require.NoError(t, err)
	assert.Equal(t, "Nova\n", out)

	out, err = execute(t, env, "Nova, 12!", "decode", "--font", fontPath, "--catalog", env.catalog)
	require.NoError(t, err)
	assert.Equal(t, "Nova, 12!\n", out)
}

func TestDecodeRequiresFont(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := execute(t, env, "", "decode", "Nova")
	require.ErrorContains(t, err, "--font")
}
