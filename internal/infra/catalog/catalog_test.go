package catalog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metamcp/internal/domain"
)

func testTool(source, name string) domain.Tool {
	return domain.Tool{
		ID:          domain.ToolID(source, name),
		Name:        name,
		Source:      source,
		Description: name + " tool",
	}
}

func TestCatalog_UpsertAndLookup(t *testing.T) {
	c := New(nil, nil)
	c.UpsertTool(testTool("fs", "read_file"))

	got, ok := c.Lookup("fs.read_file")
	require.True(t, ok)
	require.Equal(t, "read_file", got.Name)
	require.Equal(t, "fs", got.Source)

	_, ok = c.Lookup("fs.missing")
	require.False(t, ok)
}

func TestCatalog_SnapshotIsIsolated(t *testing.T) {
	c := New(nil, nil)
	tool := testTool("fs", "read_file")
	tool.Parameters = map[string]any{"properties": map[string]any{}}
	c.UpsertTool(tool)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Description = "mutated"
	snap[0].Parameters["properties"] = "junk"

	got, ok := c.Lookup("fs.read_file")
	require.True(t, ok)
	require.Equal(t, "read_file tool", got.Description)
	require.IsType(t, map[string]any{}, got.Parameters["properties"])
}

func TestCatalog_ReplaceSourceKeepsUsage(t *testing.T) {
	c := New(nil, nil)
	c.UpsertTool(testTool("fs", "read_file"))
	c.UpsertTool(testTool("fs", "write_file"))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, ok := c.UpdateUsage("fs.read_file", now)
	require.True(t, ok)

	// Restart keeps read_file, drops write_file, adds list_dir.
	c.ReplaceSource("fs", []domain.Tool{
		testTool("fs", "read_file"),
		testTool("fs", "list_dir"),
	})

	got, ok := c.Lookup("fs.read_file")
	require.True(t, ok)
	require.EqualValues(t, 1, got.UsageCount)
	require.Equal(t, now, got.LastUsed)

	_, ok = c.Lookup("fs.write_file")
	require.False(t, ok)
	_, ok = c.Lookup("fs.list_dir")
	require.True(t, ok)
}

func TestCatalog_RemoveToolsForSource(t *testing.T) {
	c := New(nil, nil)
	c.UpsertTool(testTool("fs", "read_file"))
	c.UpsertTool(testTool("web", "search"))

	require.Equal(t, 1, c.RemoveToolsForSource("fs"))
	require.Equal(t, 1, c.Len())

	snap := c.Snapshot()
	require.Equal(t, "web.search", snap[0].ID)
}

func TestCatalog_UpdateUsageUnknownTool(t *testing.T) {
	c := New(nil, nil)
	_, ok := c.UpdateUsage("nope.tool", time.Now())
	require.False(t, ok)
}

func TestCatalog_SetEmbedding(t *testing.T) {
	c := New(nil, nil)
	c.UpsertTool(testTool("fs", "read_file"))

	require.True(t, c.SetEmbedding("fs.read_file", []float64{0.1, 0.2}))
	require.False(t, c.SetEmbedding("fs.gone", []float64{0.1}))

	got, _ := c.Lookup("fs.read_file")
	require.Equal(t, []float64{0.1, 0.2}, got.Embedding)
}

func TestCatalog_ConcurrentUsageUpdates(t *testing.T) {
	c := New(nil, nil)
	c.UpsertTool(testTool("fs", "read_file"))

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.UpdateUsage("fs.read_file", time.Now())
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	got, ok := c.Lookup("fs.read_file")
	require.True(t, ok)
	require.EqualValues(t, writers, got.UsageCount)
}
