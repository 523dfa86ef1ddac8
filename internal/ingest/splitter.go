// Package ingest turns training files into provisioned knowledge stores:
// extract text, split it into overlapping chunks, embed the chunks, and
// hand the documents to the store manager.
package ingest

import (
	"fmt"
	"strings"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// defaultSeparators are tried in order: paragraph breaks first, then lines,
// then words, then a hard character cut as the last resort.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter breaks text into chunks of at most chunkSize characters with
// overlap characters carried between consecutive chunks. It prefers to cut
// at paragraph and line boundaries and only falls back to mid-word cuts for
// unbroken runs longer than a chunk.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// NewSplitter creates a splitter. overlap must be smaller than chunkSize.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunk size), got %d", overlap)
	}
	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: defaultSeparators,
	}, nil
}

// Split returns the chunks of text in order. Whitespace-only chunks are
// dropped; empty input yields no chunks.
func (s *Splitter) Split(text string) []string {
	var chunks []string
	for _, c := range s.split(text, s.separators) {
		if strings.TrimSpace(c) != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func (s *Splitter) split(text string, separators []string) []string {
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	// Pick the first separator present in the text; "" always matches.
	sep := ""
	rest := []string{}
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return s.hardCut(text)
	}

	// Oversized parts are split again with the finer separators.
	var parts []string
	for _, part := range strings.Split(text, sep) {
		if len(part) > s.chunkSize {
			parts = append(parts, s.split(part, rest)...)
		} else {
			parts = append(parts, part)
		}
	}

	return s.merge(parts, sep)
}

// merge packs parts into chunks of at most chunkSize, carrying up to overlap
// characters of trailing parts into the next chunk.
func (s *Splitter) merge(parts []string, sep string) []string {
	var chunks []string
	var current []string
	currentLen := 0

	joinedLen := func(part string) int {
		if len(current) == 0 {
			return len(part)
		}
		return len(part) + len(sep)
	}

	for _, part := range parts {
		if currentLen+joinedLen(part) > s.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, sep))

			// Seed the next chunk with trailing parts within the
			// overlap budget, dropping them again if the new part
			// still does not fit.
			var kept []string
			keptLen := 0
			for i := len(current) - 1; i >= 0; i-- {
				partLen := len(current[i]) + len(sep)
				if keptLen+partLen > s.overlap {
					break
				}
				kept = append([]string{current[i]}, kept...)
				keptLen += partLen
			}
			current, currentLen = kept, keptLen
			for len(current) > 0 && currentLen+joinedLen(part) > s.chunkSize {
				currentLen -= len(current[0]) + len(sep)
				current = current[1:]
			}
		}
		currentLen += joinedLen(part)
		current = append(current, part)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, sep))
	}
	return chunks
}

// hardCut slices text at fixed offsets with overlap, cutting on rune
// boundaries.
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
