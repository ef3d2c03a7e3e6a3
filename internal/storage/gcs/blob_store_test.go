package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "reports"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)
}

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/audit-reports/o")
		assert.Equal(t, "reports/run-1.csv", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "URL,Status Code")
		assert.Contains(t, string(body), DefaultCacheControl)
		assert.Contains(t, string(body), "attachment; filename=")
		fmt.Fprintln(w, `{"name":"reports/run-1.csv","bucket":"audit-reports"}`)
	})

	store, err := New(newTestClient(t, handler), Config{Bucket: "audit-reports"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "/reports/run-1.csv", "text/csv", strings.NewReader("URL,Status Code\n"))
	require.NoError(t, err)
	require.Equal(t, "gs://audit-reports/reports/run-1.csv", uri)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.NotFoundHandler()), Config{Bucket: "audit-reports"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "text/csv", strings.NewReader("x"))
	require.Error(t, err)
}
