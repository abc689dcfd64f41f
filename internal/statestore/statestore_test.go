package statestore

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := Open(path)
	require.NoError(t, err)

	_, err = s.WithState(func(d *Document) (any, error) {
		d.Users["alice"] = json.RawMessage(`{"key":"alice"}`)
		return nil, nil
	})
	require.NoError(t, err)
	s.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.ReadState(func(d *Document) (any, error) {
		return string(d.Users["alice"]), nil
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"key":"alice"}`, v.(string))
}

func TestOpenMissingFileYieldsEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.ReadState(func(d *Document) (any, error) {
		return len(d.Users), nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, v.(int))
}

func TestFailingMutatorDoesNotPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.WithState(func(d *Document) (any, error) {
		d.Users["bob"] = json.RawMessage(`{}`)
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	v, err := s.ReadState(func(d *Document) (any, error) {
		_, ok := d.Users["bob"]
		return ok, nil
	})
	require.NoError(t, err)
	require.False(t, v.(bool))
}

func TestWithStateSerializesConcurrentCallers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.WithState(func(d *Document) (any, error) {
				key := "u"
				existing := 0
				if raw, ok := d.Users[key]; ok {
					json.Unmarshal(raw, &existing)
				}
				existing++
				data, _ := json.Marshal(existing)
				d.Users[key] = data
				return nil, nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	v, err := s.ReadState(func(d *Document) (any, error) {
		var n int
		json.Unmarshal(d.Users["u"], &n)
		return n, nil
	})
	require.NoError(t, err)
	require.Equal(t, 50, v.(int))
}
