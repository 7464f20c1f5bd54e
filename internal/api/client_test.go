package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPath(t *testing.T) {
	p, err := keyPath([]byte{0xfb, 0xff}, nil)
	require.NoError(t, err)
	require.Equal(t, "/v1/keys/-_8", p)

	p, err = keyPath([]byte("alpha"), version(-3))
	require.NoError(t, err)
	require.Equal(t, "/v1/keys/YWxwaGE?version=-3", p)
}

func TestClientVersionQueryReachesHandler(t *testing.T) {
	ts := startTestServer(t, nil)
	ctx := testContext(t)
	key := []byte{0xfb, 0xff, 0x00}

	_, err := ts.client.Put(ctx, key, []byte("v"), PutOptions{})
	require.NoError(t, err)
	_, err = ts.client.Put(ctx, key, []byte("w"), PutOptions{Version: version(2)})
	require.ErrorIs(t, err, ErrConflict)
	got, err := ts.client.Put(ctx, key, []byte("w"), PutOptions{Version: version(1)})
	require.NoError(t, err)
	require.Equal(t, key, got.Key)
	require.Equal(t, uint64(2), got.Version)
}
