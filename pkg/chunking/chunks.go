// Package chunking splits the name list into fixed-size chunks and drives
// them through the dropdown one chunk at a time, checkpointing after each
// chunk so an interrupted run can resume.
package chunking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dev/bravebird/mar-export/pkg/models"
)

// DefaultChunkSize is used when the operator gives no usable size
const DefaultChunkSize = 50

// ErrInvalidChunkSize is returned for sizes below one
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// CreateChunks splits items into ceil(n/size) contiguous chunks with 1-based
// inclusive bounds. Only the last chunk may be short.
func CreateChunks(items []string, size int) ([]models.Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, size)
	}

	chunks := make([]models.Chunk, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		part := make([]string, end-start)
		copy(part, items[start:end])
		chunks = append(chunks, models.Chunk{
			Items:      part,
			StartIndex: start + 1,
			EndIndex:   end,
			Size:       len(part),
		})
	}
	return chunks, nil
}

// NewCheckpoint builds the initial checkpoint of a run over names
func NewCheckpoint(mode models.RunMode, filePath, column string, names []string, size int, region *string, now time.Time) (*models.Checkpoint, error) {
	chunks, err := CreateChunks(names, size)
	if err != nil {
		return nil, err
	}
	return &models.Checkpoint{
		RunID:        uuid.New().String(),
		Mode:         mode,
		FilePath:     filePath,
		ColumnName:   column,
		TotalItems:   len(names),
		ChunkSize:    size,
		TotalChunks:  len(chunks),
		CurrentChunk: 1,
		RegionFilter: region,
		Chunks:       chunks,
		Names:        names,
		StartedAt:    now,
	}, nil
}

// Validate checks a checkpoint loaded from disk is internally consistent
func Validate(cp *models.Checkpoint) error {
	switch {
	case cp.ChunkSize <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, cp.ChunkSize)
	case cp.TotalChunks != len(cp.Chunks):
		return fmt.Errorf("checkpoint lists %d chunks but total_chunks is %d", len(cp.Chunks), cp.TotalChunks)
	case cp.CurrentChunk < 1 || cp.CurrentChunk > cp.TotalChunks+1:
		return fmt.Errorf("checkpoint current_chunk %d out of range 1..%d", cp.CurrentChunk, cp.TotalChunks+1)
	}
	return nil
}
