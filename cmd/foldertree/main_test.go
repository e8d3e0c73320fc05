package main

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailfolders/internal/testutil"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"foldertree"}, args...))
	return out.String(), err
}

func TestFoldertree(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()
	server.SeedFolders(t,
		[]string{"Work", "Work/Projects", "Archive"},
		[]string{"INBOX", "Work/Projects"},
	)
	server.AddMessage(t, "INBOX", "hello")

	base := []string{"--server", server.Address, "--user", server.Username(), "--password", server.Password(), "--insecure"}

	t.Run("prints the LIST tree", func(t *testing.T) {
		out, err := runApp(t, base...)
		require.NoError(t, err)

		assert.Contains(t, out, `separator '/'`)
		assert.Contains(t, out, "INBOX [subscribed]\n")
		assert.Contains(t, out, "Work\n")
		assert.Contains(t, out, "  Projects [subscribed]\n")
		assert.Contains(t, out, "Archive\n")
	})

	t.Run("prints the LSUB tree", func(t *testing.T) {
		out, err := runApp(t, append(base, "--lsub")...)
		require.NoError(t, err)

		assert.Contains(t, out, "INBOX")
		assert.Contains(t, out, "Projects")
		assert.NotContains(t, out, "Archive")
	})

	t.Run("prints message counts", func(t *testing.T) {
		out, err := runApp(t, append(base, "--counts")...)
		require.NoError(t, err)

		want := fmt.Sprintf("INBOX [subscribed, %d messages", server.MessageCount(t, "INBOX"))
		assert.Contains(t, out, want)
	})

	t.Run("fails on bad credentials", func(t *testing.T) {
		_, err := runApp(t, "--server", server.Address, "--user", server.Username(), "--password", "nope", "--insecure")
		assert.Error(t, err)
	})
}

// unsetEnv removes key for the duration of the test. t.Setenv with an empty value still counts
// as set for flag lookups.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	prev, ok := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if ok {
			_ = os.Setenv(key, prev)
		}
	})
}

func TestFoldertree_RequiresFlags(t *testing.T) {
	for _, key := range []string{"IMAP_SERVER", "IMAP_USER", "IMAP_PASSWORD"} {
		unsetEnv(t, key)
	}

	_, err := runApp(t)
	assert.ErrorContains(t, err, "Required flags")
}

func TestFoldertree_RejectsEmptyServer(t *testing.T) {
	_, err := runApp(t, "--server", " ", "--user", "u", "--password", "p")
	assert.ErrorContains(t, err, "server must not be empty")
}
