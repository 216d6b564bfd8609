package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndList(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer Close(db)

	first := ChapterEntry{
		URL:    "https://docln.net/truyen/1/c1",
		Novel:  "Truyện_Mẫu",
		Volume: "Tập 1",
		Title:  "Chương 1",
	}
	require.NoError(t, Record(db, &first))

	second := ChapterEntry{
		URL:    "https://docln.net/truyen/1/c2",
		Novel:  "Truyện_Mẫu",
		Volume: "Tập 1",
		Title:  "Chương 2",
	}
	require.NoError(t, Record(db, &second))

	entries, err := ListByNovel(db, "Truyện_Mẫu")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Chương 1", entries[0].Title)
	assert.Equal(t, "Chương 2", entries[1].Title)

	other, err := ListByNovel(db, "Khác")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRecordUpsertsByURL(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer Close(db)

	entry := ChapterEntry{
		URL:   "https://docln.net/truyen/1/c1",
		Novel: "Truyện_Mẫu",
		Title: "Chương 1",
	}
	require.NoError(t, Record(db, &entry))

	renamed := ChapterEntry{
		URL:   "https://docln.net/truyen/1/c1",
		Novel: "Truyện_Mẫu",
		Title: "Chương 1 (sửa)",
	}
	require.NoError(t, Record(db, &renamed))

	entries, err := ListByNovel(db, "Truyện_Mẫu")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Chương 1 (sửa)", entries[0].Title)
}
