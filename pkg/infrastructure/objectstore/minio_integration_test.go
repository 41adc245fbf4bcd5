//go:build integration

package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/testutil/miniotest"
)

func TestClientRoundTrip(t *testing.T) {
	m := miniotest.New(t)
	ctx := context.Background()

	c, err := New(Config{Endpoint: m.Endpoint, AccessKey: m.User, SecretKey: m.Password}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, c.EnsureBucket(ctx, "photos"))
	require.NoError(t, c.EnsureBucket(ctx, "photos"))

	_, err = c.Stat(ctx, "photos", "absent.jpg")
	assert.True(t, errors.IsNotFound(err))

	payload := []byte("jpeg bytes")
	require.NoError(t, c.Put(ctx, "photos", "a.jpg", bytes.NewReader(payload), int64(len(payload))))

	info, err := c.Stat(ctx, "photos", "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size)
	assert.Equal(t, "photos", info.Bucket)

	r, err := c.Get(ctx, "photos", "a.jpg")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
