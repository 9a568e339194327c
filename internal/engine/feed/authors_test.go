package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anatolykoptev/go_iwara/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, pub *fakePublisher) (*AuthorRegistry, string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "authors.json")
	idPath := filepath.Join(dir, "author_tags_message_id.txt")
	return LoadAuthorRegistry(path, idPath, pub), path, idPath
}

func TestRegistryCreatesThenEditsReport(t *testing.T) {
	pub := newFakePublisher(100)
	reg, path, idPath := newRegistry(t, pub)
	ctx := context.Background()

	require.NoError(t, reg.RegisterIfNew(ctx, "Alice"))
	require.NoError(t, reg.RegisterIfNew(ctx, "Bob"))
	require.NoError(t, reg.RegisterIfNew(ctx, "Alice"))
	require.NoError(t, reg.RegisterIfNew(ctx, ""))

	assert.Len(t, pub.sentOf("message"), 1)
	edits := pub.sentOf("edit")
	require.Len(t, edits, 1)
	assert.Equal(t, 101, edits[0].id)
	assert.Contains(t, edits[0].text, "#Alice")
	assert.Contains(t, edits[0].text, "#Bob")
	assert.Equal(t, 101, reg.MessageID())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal(data, &names))
	assert.Equal(t, []string{"Alice", "Bob"}, names)

	idData, err := os.ReadFile(idPath)
	require.NoError(t, err)
	assert.Equal(t, "101", string(idData))

	// reload keeps both the set and the handle
	again := LoadAuthorRegistry(path, idPath, pub)
	assert.True(t, again.Has("Bob"))
	assert.Equal(t, 101, again.MessageID())
}

func TestRegistryNotModifiedIsNoop(t *testing.T) {
	pub := newFakePublisher(100)
	reg, _, _ := newRegistry(t, pub)
	ctx := context.Background()
	require.NoError(t, reg.RegisterIfNew(ctx, "Alice"))

	require.NoError(t, reg.publishReport(ctx))
	assert.Len(t, pub.sentOf("message"), 1)
	assert.Equal(t, 101, reg.MessageID())
}

func TestRegistryWarnsWhenReportOverflows(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	pub := newFakePublisher(100)
	reg, _, _ := newRegistry(t, pub)
	ctx := context.Background()

	require.NoError(t, reg.RegisterIfNew(ctx, "Alice"))
	assert.NotContains(t, buf.String(), "exceeds message limit")

	for i := 0; i < 300; i++ {
		require.NoError(t, reg.RegisterIfNew(ctx, fmt.Sprintf("a_rather_long_author_%03d", i)))
	}
	assert.Greater(t, engine.RuneLen(RenderAuthorTags(reg.Names())), engine.MessageLimit)
	assert.Contains(t, buf.String(), "authors: report exceeds message limit")
	assert.Contains(t, buf.String(), fmt.Sprintf("limit=%d", engine.MessageLimit))
}

func TestRegistryRepostsDeletedReport(t *testing.T) {
	pub := newFakePublisher(100)
	dir := t.TempDir()
	path := filepath.Join(dir, "authors.json")
	idPath := filepath.Join(dir, "author_tags_message_id.txt")
	require.NoError(t, os.WriteFile(path, []byte(`["Alice"]`), 0o644))
	require.NoError(t, os.WriteFile(idPath, []byte("77\n"), 0o644))

	reg := LoadAuthorRegistry(path, idPath, pub)
	assert.Equal(t, 77, reg.MessageID())

	require.NoError(t, reg.RegisterIfNew(context.Background(), "Bob"))
	assert.Equal(t, 101, reg.MessageID())
	require.Len(t, pub.sentOf("edit"), 1)
	require.Len(t, pub.sentOf("message"), 1)

	idData, err := os.ReadFile(idPath)
	require.NoError(t, err)
	assert.Equal(t, "101", string(idData))
}

func TestRegistryCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authors.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	reg := LoadAuthorRegistry(path, filepath.Join(dir, "id.txt"), newFakePublisher(1))
	assert.Empty(t, reg.Names())
	assert.Zero(t, reg.MessageID())
}

func TestRenderAuthorTags(t *testing.T) {
	assert.Equal(t, "作者:\n", RenderAuthorTags(nil))
	assert.Equal(t, "作者:\n#Big_Name    #x    ", RenderAuthorTags([]string{"Big Name", "x"}))

	// 30 runes per tag with spacing: four fit on a line, the fifth wraps
	var names []string
	for _, c := range "abcde" {
		names = append(names, strings.Repeat(string(c), 25))
	}
	out := RenderAuthorTags(names)
	lines := strings.Split(strings.TrimPrefix(out, "作者:\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, 120, len([]rune(lines[0])))
	assert.True(t, strings.HasPrefix(lines[1], "#eeee"))
}
