package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/dunamismax/cutout/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(config.StorageConfig{Bucket: "b"})
	assert.Error(t, err)

	_, err = NewClient(config.StorageConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestPresignedGetURLIsLocal(t *testing.T) {
	c, err := NewClient(config.StorageConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "cutout-jobs",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	// With an explicit region presigning never contacts the server.
	raw, err := c.PresignedGetURL(context.Background(), "outputs/j1/result.png", "photo_no_bg.png", time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/cutout-jobs/outputs/j1/result.png", u.Path)
	assert.Contains(t, u.Query().Get("response-content-disposition"), "photo_no_bg.png")
}
