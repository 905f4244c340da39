package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
	"github.com/Sternrassler/edsm-discoveries/pkg/interval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discoveries.json")
	store, err := Open(path, "Jameson")
	require.NoError(t, err)
	return store, path
}

func sampleRecords() []discovery.Record {
	return []discovery.Record{
		{SystemName: "Blae Drye AA-A h12", SystemID: 101, DiscoveryDate: day(2).Add(3 * time.Hour)},
		{SystemName: "Blae Drye BB-C d4", SystemID: 102, DiscoveryDate: day(1).Add(7 * time.Hour)},
	}
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	store, path := testStore(t)

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, path, store.Path())
	assert.Equal(t, "Jameson", store.Commander())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "Open must not create the file")
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open("", "Jameson")
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "c.json"), "")
	assert.Error(t, err)
}

func TestStore_PutAndGet(t *testing.T) {
	store, _ := testStore(t)
	iv := interval.New(day(1), day(4))

	assert.False(t, store.Completed(iv))

	assert.True(t, store.Put(iv, sampleRecords()))
	assert.True(t, store.Completed(iv))

	entry, ok := store.Get(iv)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, entry.Status)
	assert.Len(t, entry.Records, 2)
	assert.Equal(t, iv, entry.Interval())
	assert.False(t, entry.FetchedAt.IsZero())
}

func TestStore_PutIsIdempotentForCompleted(t *testing.T) {
	store, _ := testStore(t)
	iv := interval.New(day(1), day(4))

	require.True(t, store.Put(iv, sampleRecords()))
	assert.False(t, store.Put(iv, nil), "second Put must be a no-op")

	entry, _ := store.Get(iv)
	assert.Len(t, entry.Records, 2, "completed records must not be replaced")
}

func TestStore_PutReplacesOverlappingEntries(t *testing.T) {
	store, _ := testStore(t)
	head := interval.New(day(1), day(4))
	clipped := interval.New(day(4), day(5))
	full := interval.New(day(4), day(7))

	require.True(t, store.Put(head, sampleRecords()))
	require.True(t, store.Put(clipped, nil))
	require.True(t, store.Put(full, sampleRecords()[:1]))

	assert.Equal(t, 2, store.Len())
	assert.True(t, store.Completed(head), "adjacent entries are kept")
	assert.True(t, store.Completed(full))
	_, ok := store.Get(clipped)
	assert.False(t, ok, "the clipped tail is superseded")
}

func TestStore_PutCopiesRecords(t *testing.T) {
	store, _ := testStore(t)
	iv := interval.New(day(1), day(4))
	records := sampleRecords()

	store.Put(iv, records)
	records[0].SystemName = "mutated"

	entry, _ := store.Get(iv)
	assert.Equal(t, "Blae Drye AA-A h12", entry.Records[0].SystemName)
}

func TestStore_FlushAndReopen(t *testing.T) {
	store, path := testStore(t)
	iv := interval.New(day(1), day(4))
	store.Put(iv, sampleRecords())
	require.NoError(t, store.Flush())

	reopened, err := Open(path, "Jameson")
	require.NoError(t, err)

	assert.True(t, reopened.Completed(iv))
	entry, ok := reopened.Get(iv)
	require.True(t, ok)
	assert.Len(t, entry.Records, 2)
	assert.True(t, entry.Records[0].DiscoveryDate.Equal(day(2).Add(3*time.Hour)))
}

func TestStore_FlushLeavesNoTempFiles(t *testing.T) {
	store, path := testStore(t)
	store.Put(interval.New(day(1), day(4)), sampleRecords())
	require.NoError(t, store.Flush())
	require.NoError(t, store.Flush())

	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Base(path), files[0].Name())
}

func TestStore_FlushWritesValidSnapshot(t *testing.T) {
	store, path := testStore(t)
	store.Put(interval.New(day(1), day(4)), sampleRecords())
	require.NoError(t, store.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var file storeFile
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Equal(t, FormatVersion, file.Version)
	assert.Equal(t, "Jameson", file.Commander)
	assert.Contains(t, file.Intervals, "2024-01-01T00:00:00Z/2024-01-04T00:00:00Z")
}

func TestOpen_CorruptFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discoveries.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"intervals":{`), 0o600))

	_, err := Open(path, "Jameson")
	assert.ErrorIs(t, err, ErrInvalidFile)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1,"intervals":{`, string(data), "corrupt file must be left untouched")
}

func TestOpen_BadIntervalKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discoveries.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"intervals":{"bogus":{"status":"completed"}}}`), 0o600))

	_, err := Open(path, "Jameson")
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestOpen_CommanderMismatch(t *testing.T) {
	store, path := testStore(t)
	store.Put(interval.New(day(1), day(4)), sampleRecords())
	require.NoError(t, store.Flush())

	_, err := Open(path, "Someone Else")
	assert.ErrorIs(t, err, ErrCommanderMismatch)
}

func TestOpen_UnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discoveries.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"intervals":{}}`), 0o600))

	_, err := Open(path, "Jameson")
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestOpen_IgnoresPendingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discoveries.json")
	content := `{"version":1,"commander":"Jameson","intervals":{
		"2024-01-01T00:00:00Z/2024-01-04T00:00:00Z":{"status":"pending","records":[]},
		"2024-01-04T00:00:00Z/2024-01-07T00:00:00Z":{"status":"completed","records":[]}
	}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := Open(path, "Jameson")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
	assert.False(t, store.Completed(interval.New(day(1), day(4))))
	assert.True(t, store.Completed(interval.New(day(4), day(7))))
}

func TestStore_Invalidate(t *testing.T) {
	store, _ := testStore(t)
	a := interval.New(day(1), day(4))
	b := interval.New(day(4), day(7))
	c := interval.New(day(7), day(10))
	store.Put(a, nil)
	store.Put(b, nil)
	store.Put(c, nil)

	assert.True(t, store.Invalidate(a))
	assert.False(t, store.Invalidate(a))
	assert.False(t, store.Completed(a))

	assert.Equal(t, 1, store.InvalidateAfter(day(7)))
	assert.True(t, store.Completed(b))
	assert.False(t, store.Completed(c))

	assert.True(t, store.Put(c, sampleRecords()), "invalidated interval can be stored again")

	assert.Equal(t, 2, store.Reset())
	assert.Equal(t, 0, store.Len())
}

func TestStore_RecordsMergedChronologically(t *testing.T) {
	store, _ := testStore(t)
	a := interval.New(day(1), day(4))
	b := interval.New(day(4), day(7))
	other := interval.New(day(20), day(23))

	store.Put(b, []discovery.Record{
		{SystemName: "Late", DiscoveryDate: day(5)},
		{SystemName: "Blae Drye BB-C d4", DiscoveryDate: day(6)},
	})
	store.Put(a, sampleRecords())
	store.Put(other, []discovery.Record{{SystemName: "Outside", DiscoveryDate: day(21)}})

	got := store.Records([]interval.Interval{a, b})

	names := make([]string, len(got))
	for i, r := range got {
		names[i] = r.SystemName
	}
	assert.Equal(t, []string{"Blae Drye BB-C d4", "Blae Drye AA-A h12", "Late"}, names)
	assert.True(t, got[0].DiscoveryDate.Equal(day(1).Add(7*time.Hour)), "earliest date wins")

	assert.Len(t, store.AllRecords(), 4)
}

func TestStore_Entries(t *testing.T) {
	store, _ := testStore(t)
	store.Put(interval.New(day(7), day(10)), nil)
	store.Put(interval.New(day(1), day(4)), nil)

	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Start.Equal(day(1)))
	assert.True(t, entries[1].Start.Equal(day(7)))
}
