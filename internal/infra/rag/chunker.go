package rag

import (
	"regexp"
	"strconv"
	"strings"

	"metamcp/internal/domain"
)

var (
	headerPattern   = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	sentencePattern = regexp.MustCompile(`(?:[.!?])\s+`)
)

type section struct {
	title string
	body  string
}

// chunkContent splits markdown documentation into embedding-sized chunks.
// Sections stay whole when they fit; oversized sections fall back to
// paragraph chunks, and oversized paragraphs to sentence chunks.
func chunkContent(content, sourceID string, chunkSize int) []domain.DocumentChunk {
	var chunks []domain.DocumentChunk

	for _, sec := range splitByHeaders(content) {
		if len(sec.body) > chunkSize*2 {
			for i, text := range splitByParagraphs(sec.body, chunkSize) {
				chunks = append(chunks, domain.DocumentChunk{
					Text:   text,
					Source: sourceID,
					Metadata: map[string]string{
						"section":     sec.title,
						"chunk_type":  "paragraph",
						"chunk_index": strconv.Itoa(i),
					},
				})
			}
			continue
		}
		chunks = append(chunks, domain.DocumentChunk{
			Text:   sec.body,
			Source: sourceID,
			Metadata: map[string]string{
				"section":    sec.title,
				"chunk_type": "section",
			},
		})
	}

	return chunks
}

func splitByHeaders(content string) []section {
	var sections []section
	current := strings.Builder{}
	title := "Introduction"

	for _, line := range strings.Split(content, "\n") {
		if match := headerPattern.FindStringSubmatch(line); match != nil {
			if body := strings.TrimSpace(current.String()); body != "" {
				sections = append(sections, section{title: title, body: body})
			}
			title = match[2]
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if body := strings.TrimSpace(current.String()); body != "" {
		sections = append(sections, section{title: title, body: body})
	}
	return sections
}

func splitByParagraphs(content string, chunkSize int) []string {
	var paragraphs []string
	for _, p := range strings.Split(content, "\n\n") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	var chunks []string
	current := ""
	for _, paragraph := range paragraphs {
		if len(current)+len(paragraph) > chunkSize {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
				current = ""
			}
			if len(paragraph) > chunkSize {
				sentenceChunks, leftover := splitBySentences(paragraph, chunkSize)
				chunks = append(chunks, sentenceChunks...)
				current = leftover
			} else {
				current = paragraph
			}
			continue
		}
		if current == "" {
			current = paragraph
		} else {
			current += "\n\n" + paragraph
		}
	}
	if current != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	return chunks
}

// splitBySentences packs sentences into chunks up to chunkSize and returns
// the still-open trailing chunk so the caller can keep filling it.
func splitBySentences(paragraph string, chunkSize int) (chunks []string, leftover string) {
	sentences := splitSentences(paragraph)
	current := ""
	for _, sentence := range sentences {
		if len(current)+len(sentence) > chunkSize {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
			}
			current = sentence
			continue
		}
		if current == "" {
			current = sentence
		} else {
			current += " " + sentence
		}
	}
	return chunks, current
}

func splitSentences(text string) []string {
	locs := sentencePattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	var out []string
	start := 0
	for _, loc := range locs {
		// Keep the terminating punctuation, drop the whitespace.
		out = append(out, strings.TrimSpace(text[start:loc[0]+1]))
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
