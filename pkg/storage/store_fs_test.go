package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestFsClient(t *testing.T) {
	root := t.TempDir()
	fc, err := NewFsClient(root, StoreGroupSession)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, "sessions"))

	require.NoError(t, fc.Create("a", doc{Name: "a", Value: 1}))
	err = fc.Create("a", doc{Name: "a", Value: 2})
	assert.True(t, errors.Is(err, fs.ErrExist))

	data, err := fc.Get("a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","value":1}`, string(data))

	require.NoError(t, fc.Update("a", doc{Name: "a", Value: 3}))
	data, err = fc.Get("a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","value":3}`, string(data))

	require.NoError(t, fc.Update("b", doc{Name: "b"}))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "sessions", "a.json"), past, past))

	files, err := fc.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b", files[0].Key)
	assert.Equal(t, "a", files[1].Key)

	require.NoError(t, fc.Delete("a"))
	_, err = fc.Get("a")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Error(t, fc.Delete("a"))
}

func TestFsClientRejectsPaths(t *testing.T) {
	fc, err := NewFsClient(t.TempDir(), StoreGroupCalibration)
	require.NoError(t, err)
	for _, key := range []string{"", "..", "../x", `a\b`} {
		_, err := fc.Get(key)
		assert.Error(t, err, "key %q", key)
		assert.Error(t, fc.Update(key, doc{}), "key %q", key)
	}
}

func TestNewFsClientUnknownGroup(t *testing.T) {
	_, err := NewFsClient(t.TempDir(), StoreGroup(9))
	assert.Error(t, err)
}
