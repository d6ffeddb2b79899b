package routing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetThenGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := Open(path)
	require.NoError(t, s.Set("scope-1", "container-a"))

	got, ok := s.Get("scope-1")
	require.True(t, ok)
	require.Equal(t, "container-a", got)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	s := Open(filepath.Join(dir, "state.json"))

	_, ok := s.Get("nope")
	require.False(t, ok)
}

func TestSetPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s1 := Open(path)
	require.NoError(t, s1.Set("scope-1", "container-a"))

	s2 := Open(path)
	got, ok := s2.Get("scope-1")
	require.True(t, ok)
	require.Equal(t, "container-a", got)
}

func TestGetEntryExposesUpdatedAt(t *testing.T) {
	dir := t.TempDir()
	s := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, s.Set("scope-1", "container-a"))

	e, ok := s.GetEntry("scope-1")
	require.True(t, ok)
	require.Equal(t, "container-a", e.Container)
	require.NotZero(t, e.UpdatedAt)
}

func TestGetEntryMissingReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	s := Open(filepath.Join(dir, "state.json"))

	_, ok := s.GetEntry("nope")
	require.False(t, ok)
}

func TestClearReturnsPreviousBindingAndRemoves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := Open(path)
	require.NoError(t, s.Set("scope-1", "container-a"))

	prev, err := s.Clear("scope-1")
	require.NoError(t, err)
	require.Equal(t, "container-a", prev)

	_, ok := s.Get("scope-1")
	require.False(t, ok)
}

func TestClearUnboundScopeReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := Open(filepath.Join(dir, "state.json"))

	prev, err := s.Clear("never-bound")
	require.NoError(t, err)
	require.Equal(t, "", prev)
}

func TestOpenMissingFileYieldsEmptyState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := Open(path)
	_, ok := s.Get("anything")
	require.False(t, ok)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "open must not create the file until the first write")
}

func TestOpenCorruptFileYieldsEmptyState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := Open(path)
	_, ok := s.Get("anything")
	require.False(t, ok)
}

func TestOpenVersionMismatchYieldsEmptyState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	raw, err := json.Marshal(state{Version: 999, Sessions: map[string]Entry{"s": {Container: "c"}}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	s := Open(path)
	_, ok := s.Get("s")
	require.False(t, ok)
}

func TestSetWritesAtomicallyViaTempRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := Open(path)
	require.NoError(t, s.Set("scope-1", "container-a"))

	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err), "tmp file must not survive a successful write")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk state
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	require.Equal(t, schemaVersion, onDisk.Version)
	require.Equal(t, "container-a", onDisk.Sessions["scope-1"].Container)
}

func TestCreatesParentDirOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "state.json")
	s := Open(path)
	require.NoError(t, s.Set("scope-1", "container-a"))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestConcurrentSetsSerialise(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := Open(path)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set("scope-shared", "container-final")
		}(i)
	}
	wg.Wait()

	got, ok := s.Get("scope-shared")
	require.True(t, ok)
	require.Equal(t, "container-final", got)
}
