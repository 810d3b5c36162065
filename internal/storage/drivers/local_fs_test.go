package drivers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFSDriver_RoundTrip(t *testing.T) {
	driver, err := NewLocalFSDriver(t.TempDir(), "/api/snapshots/")
	require.NoError(t, err)

	ctx := context.Background()
	key := "snapshots/asset/42/20261017T101500Z.json"
	content := []byte(`{"condition":"good"}`)

	require.NoError(t, driver.Save(ctx, key, bytes.NewReader(content), "application/json"))

	_, err = os.Stat(filepath.Join(driver.BaseDir, "snapshots", "asset", "42", "20261017T101500Z.json"))
	assert.NoError(t, err)

	reader, contentType, err := driver.Get(ctx, key)
	require.NoError(t, err)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, body)
	assert.Equal(t, "application/json", contentType)

	url, err := driver.GenerateURL(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, "/api/snapshots/"+key, url)

	require.NoError(t, driver.Delete(ctx, key))
	_, _, err = driver.Get(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalFSDriver_List(t *testing.T) {
	driver, err := NewLocalFSDriver(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"asset/1/b.json", "asset/1/a.json", "asset/2/a.json"} {
		require.NoError(t, driver.Save(ctx, key, bytes.NewReader([]byte("{}")), "application/json"))
	}

	keys, err := driver.List(ctx, "asset/1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"asset/1/a.json", "asset/1/b.json"}, keys)

	all, err := driver.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLocalFSDriver_RejectsEscapingKeys(t *testing.T) {
	driver, err := NewLocalFSDriver(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "..", "../outside.json", "a/../../outside.json", "x.json.meta"} {
		err := driver.Save(ctx, key, bytes.NewReader(nil), "text/plain")
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestLocalFSDriver_DeleteMissingIsNoop(t *testing.T) {
	driver, err := NewLocalFSDriver(t.TempDir(), "")
	require.NoError(t, err)

	assert.NoError(t, driver.Delete(context.Background(), "missing.json"))
}
