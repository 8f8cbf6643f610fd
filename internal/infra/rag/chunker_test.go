package rag

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkContentSplitsSections(t *testing.T) {
	content := "intro text before any header\n\n# Reading\n\nHow to read files.\n\n## Writing\n\nHow to write files.\n"

	chunks := chunkContent(content, "fs_docs", 500)
	require.Len(t, chunks, 3)

	require.Equal(t, "Introduction", chunks[0].Metadata["section"])
	require.Equal(t, "intro text before any header", chunks[0].Text)

	require.Equal(t, "Reading", chunks[1].Metadata["section"])
	require.Equal(t, "Writing", chunks[2].Metadata["section"])
	for _, chunk := range chunks {
		require.Equal(t, "fs_docs", chunk.Source)
		require.Equal(t, "section", chunk.Metadata["chunk_type"])
	}
}

func TestChunkContentSkipsEmptySections(t *testing.T) {
	chunks := chunkContent("# Empty\n\n# Full\n\nbody\n", "x_docs", 500)
	require.Len(t, chunks, 1)
	require.Equal(t, "Full", chunks[0].Metadata["section"])
}

func TestChunkContentOversizedSectionFallsBackToParagraphs(t *testing.T) {
	para := strings.Repeat("word ", 30)
	content := "# Big\n\n" + para + "\n\n" + para + "\n\n" + para + "\n"

	chunks := chunkContent(content, "fs_docs", 100)
	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		require.Equal(t, "Big", chunk.Metadata["section"])
		require.Equal(t, "paragraph", chunk.Metadata["chunk_type"])
		require.Equal(t, strconv.Itoa(i), chunk.Metadata["chunk_index"])
		require.LessOrEqual(t, len(chunk.Text), 200)
	}
}

func TestSplitByParagraphsPacksUpToChunkSize(t *testing.T) {
	chunks := splitByParagraphs("aaaa\n\nbbbb\n\ncccc", 10)
	require.Equal(t, []string{"aaaa\n\nbbbb", "cccc"}, chunks)
}

func TestSplitByParagraphsOversizedParagraphUsesSentences(t *testing.T) {
	paragraph := "First sentence here. Second sentence here. Third sentence here."
	chunks := splitByParagraphs(paragraph, 25)

	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), 25)
		require.True(t, strings.HasSuffix(chunk, "."))
	}
}

func TestSplitSentences(t *testing.T) {
	out := splitSentences("One. Two! Three? Four")
	require.Equal(t, []string{"One.", "Two!", "Three?", "Four"}, out)
}

func TestSplitSentencesNoTerminator(t *testing.T) {
	out := splitSentences("no punctuation at all")
	require.Equal(t, []string{"no punctuation at all"}, out)
}
