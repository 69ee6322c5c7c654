package chunking

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dev/bravebird/mar-export/pkg/models"
)

func namesN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Home %03d", i+1)
	}
	return out
}

func TestCreateChunks(t *testing.T) {
	chunks, err := CreateChunks(namesN(120), 50)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	require.Equal(t, 1, chunks[0].StartIndex)
	require.Equal(t, 50, chunks[0].EndIndex)
	require.Equal(t, 51, chunks[1].StartIndex)
	require.Equal(t, 100, chunks[1].EndIndex)
	require.Equal(t, 101, chunks[2].StartIndex)
	require.Equal(t, 120, chunks[2].EndIndex)
	require.Equal(t, 20, chunks[2].Size)
	require.Equal(t, "Home 101", chunks[2].Items[0])
}

func TestCreateChunksCoversEveryItemOnce(t *testing.T) {
	for n := 0; n <= 23; n++ {
		for size := 1; size <= 8; size++ {
			items := namesN(n)
			chunks, err := CreateChunks(items, size)
			require.NoError(t, err)
			require.Len(t, chunks, (n+size-1)/size, "n=%d size=%d", n, size)

			var flat []string
			next := 1
			for i, c := range chunks {
				require.Equal(t, next, c.StartIndex)
				require.Equal(t, c.StartIndex+c.Size-1, c.EndIndex)
				require.Len(t, c.Items, c.Size)
				if i < len(chunks)-1 {
					require.Equal(t, size, c.Size)
				}
				flat = append(flat, c.Items...)
				next = c.EndIndex + 1
			}
			if n > 0 {
				require.Equal(t, items, flat)
			}
		}
	}
}

func TestCreateChunksRejectsBadSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := CreateChunks(namesN(3), size)
		require.ErrorIs(t, err, ErrInvalidChunkSize)
	}
}

func TestCreateChunksDoesNotAlias(t *testing.T) {
	items := namesN(4)
	chunks, err := CreateChunks(items, 2)
	require.NoError(t, err)
	items[0] = "changed"
	require.Equal(t, "Home 001", chunks[0].Items[0])
}

func TestNewCheckpoint(t *testing.T) {
	region := "North"
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	cp, err := NewCheckpoint(models.ModeAuto, "locations.csv", "Location Name", namesN(7), 3, &region, now)
	require.NoError(t, err)

	require.NotEmpty(t, cp.RunID)
	require.Equal(t, 7, cp.TotalItems)
	require.Equal(t, 3, cp.TotalChunks)
	require.Equal(t, 1, cp.CurrentChunk)
	require.Equal(t, "North", *cp.RegionFilter)
	require.False(t, cp.Done())
	require.Len(t, cp.Remaining(), 3)
	require.NoError(t, Validate(cp))

	cp.CurrentChunk = 3
	require.Len(t, cp.Remaining(), 1)
	cp.CurrentChunk = 4
	require.True(t, cp.Done())
	require.Empty(t, cp.Remaining())
}

func TestValidate(t *testing.T) {
	cp, err := NewCheckpoint(models.ModeManual, "f.csv", "Location Name", namesN(5), 2, nil, time.Now())
	require.NoError(t, err)

	bad := *cp
	bad.CurrentChunk = 0
	require.Error(t, Validate(&bad))

	bad = *cp
	bad.TotalChunks = 9
	require.Error(t, Validate(&bad))

	bad = *cp
	bad.ChunkSize = 0
	require.ErrorIs(t, Validate(&bad), ErrInvalidChunkSize)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "progress", "chunking_progress.json"))

	cp, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, cp)

	region := "South"
	orig, err := NewCheckpoint(models.ModeManual, "locations.csv", "Location Name", namesN(5), 2, &region, time.Now().UTC().Truncate(time.Second))
	require.NoError(t, err)
	orig.CurrentChunk = 2
	require.NoError(t, store.Save(orig))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, orig.RunID, loaded.RunID)
	require.Equal(t, 2, loaded.CurrentChunk)
	require.Equal(t, "South", *loaded.RegionFilter)
	require.Equal(t, orig.Chunks, loaded.Chunks)
	require.True(t, orig.StartedAt.Equal(loaded.StartedAt))

	entries, err := os.ReadDir(filepath.Dir(store.Path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	cp, err = store.Load()
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunking_progress.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewFileStore(path).Load()
	require.Error(t, err)
}

func TestCheckpointJSONKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunking_progress.json")
	cp, err := NewCheckpoint(models.ModeManual, "f.csv", "Location Name", namesN(1), 50, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, NewFileStore(path).Save(cp))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{"file_path", "column_name", "total_items", "chunk_size", "total_chunks", "current_chunk", "region_filter", "chunks", "names", "started_at", "start_index", "end_index"} {
		require.Contains(t, string(data), `"`+key+`"`)
	}
}
