package gcs

import (
	"bytes"
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newOfflineClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "storage client is required")

	client := newOfflineClient(t)
	_, err = New(client, Config{Bucket: " "})
	require.ErrorContains(t, err, "bucket name is required")

	store, err := New(client, Config{Bucket: "archives", Metadata: map[string]string{"service": "stage-tracker"}})
	require.NoError(t, err)
	require.Equal(t, "gs://archives/events/a.json", store.URI("/events/a.json"))
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(newOfflineClient(t), Config{Bucket: "archives"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "/", "application/json", bytes.NewReader(nil))
	require.ErrorContains(t, err, "path is required")
}
