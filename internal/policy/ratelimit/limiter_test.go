package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSharesBucketAcrossSubdomainPrefix(t *testing.T) {
	t.Parallel()

	l := New(100, 1)
	require.NoError(t, l.Wait(context.Background(), "https://www.example.com/a"))

	d1, err := domainOf("https://www.example.com/a")
	require.NoError(t, err)
	d2, err := domainOf("https://example.com/b")
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestWaitSeparatesDomains(t *testing.T) {
	t.Parallel()

	// one token, no refill to speak of: second hit on the same
	// domain must block, a different domain must not
	l := New(0.001, 1)

	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com/a"))
	require.NoError(t, l.Wait(context.Background(), "https://other.test/b"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example.com/c")
	require.Error(t, err)
}

func TestWaitRejectsBadURL(t *testing.T) {
	t.Parallel()

	l := New(1, 1)
	require.Error(t, l.Wait(context.Background(), "not a url"))
}
