package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "reports/run-1.csv", "text/csv", bytes.NewReader([]byte("content")))
	require.NoError(t, err)
	require.Equal(t, "memory://reports/run-1.csv", uri)

	got, contentType, ok := store.Object("reports/run-1.csv")
	require.True(t, ok)
	require.Equal(t, "text/csv", contentType)
	got[0] = 'C'

	again, _, _ := store.Object("reports/run-1.csv")
	require.Equal(t, "content", string(again))
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "text/csv", bytes.NewReader(nil))
	require.Error(t, err)
}
