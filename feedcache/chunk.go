package feedcache

import (
	"github.com/Nexkiv/feedfanout/model"
)

// ChunkEntries splits entries into consecutive chunks of at most maxSize,
// preserving order. Pure function: concatenating the chunks reproduces the
// input exactly.
func ChunkEntries(items []model.FeedEntry, maxSize int) [][]model.FeedEntry {
	if maxSize <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]model.FeedEntry, 0, (len(items)+maxSize-1)/maxSize)
	for start := 0; start < len(items); start += maxSize {
		end := start + maxSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ChunkStrings is ChunkEntries for id lists, used by the fan-out coordinator
// to bound targetViewerIds per batch write message.
func ChunkStrings(items []string, maxSize int) [][]string {
	if maxSize <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(items)+maxSize-1)/maxSize)
	for start := 0; start < len(items); start += maxSize {
		end := start + maxSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
