package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	store, err := New(client, Config{Bucket: "novels", Prefix: "/raw/"})
	require.NoError(t, err)
	require.Equal(t, "raw/chapters/abc.html", store.ObjectName("chapters/abc.html"))

	bare, err := New(client, Config{Bucket: "novels"})
	require.NoError(t, err)
	require.Equal(t, "chapters/abc.html", bare.ObjectName("/chapters/abc.html"))
}
