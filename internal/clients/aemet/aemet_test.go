package aemet

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoggerNop() zerolog.Logger {
	return zerolog.Nop()
}

func TestParseDecimal(t *testing.T) {
	cases := map[string]float64{
		"":       0,
		"Ip":     0,
		"12,5":   12.5,
		"-3,2":   -3.2,
		"0,0":    0,
		"100":    100,
	}
	for in, want := range cases {
		assert.InDelta(t, want, parseDecimal(in), 0.001, "input %q", in)
	}
}

func TestFileTokenStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileTokenStore(dir)

	tok, exp, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.True(t, exp.IsZero())

	issued := time.Now()
	expires := issued.Add(TokenTTL)
	require.NoError(t, store.Save("abc123", issued, expires))

	tok, exp, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)
	assert.WithinDuration(t, expires, exp, time.Second)

	info, err := os.Stat(dir + "/aemet_token.json")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRefreshTokenWithoutAPIKey(t *testing.T) {
	c := New(Config{BaseURL: "https://example.invalid"}, nil, testLoggerNop())
	_, err := c.RefreshToken(context.Background())
	require.Error(t, err)
}
