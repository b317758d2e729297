package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHelpListsCommands(t *testing.T) {
	root := buildRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())

	for _, name := range []string{"chat", "ingest", "refresh-style", "backfill-embeddings"} {
		assert.Contains(t, out.String(), name)
	}
}

func TestIngestHelpWarnsAboutMemoryBackend(t *testing.T) {
	root := buildRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"ingest", "--help"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "STORE_BACKEND=memory")
	assert.Contains(t, out.String(), "only for this process")
}

func TestPersonaFlagRequired(t *testing.T) {
	root := buildRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"refresh-style"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persona")
}

func TestReadMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	body := `[{"sender":"Ann","content":"hi there","timestamp":"2024-05-01T20:00:00Z"},{"sender":"me","content":"hey"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	msgs, err := readMessages(path, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Ann", msgs[0].Sender)
	assert.Equal(t, time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC), msgs[0].Timestamp)

	fromStdin, err := readMessages("-", strings.NewReader(body))
	require.NoError(t, err)
	assert.Len(t, fromStdin, 2)

	_, err = readMessages("-", strings.NewReader("{not json"))
	assert.Error(t, err)
}

func TestChatLoop(t *testing.T) {
	in := strings.NewReader("hello\n\n  \nboom\n/exit\nnever\n")
	var out bytes.Buffer
	var said []string
	err := chatLoop(t.Context(), in, &out, func(text string) error {
		said = append(said, text)
		if text == "boom" {
			return errors.New("model offline")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "boom"}, said)
	assert.Contains(t, out.String(), "! model offline")
}

func TestSetupLogger(t *testing.T) {
	assert.NoError(t, setupLogger("debug", "json"))
	assert.NoError(t, setupLogger("warn", "text"))
	assert.Error(t, setupLogger("loud", "text"))
	assert.Error(t, setupLogger("info", "xml"))
}
