package mempool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRoundsUpToWholePages(t *testing.T) {
	p := New(1000, 256)
	require.Equal(t, 256, p.PageSize())
	require.Equal(t, 4, p.Capacity())
}

func TestGetAndPutRoundTrip(t *testing.T) {
	p := New(1024, 256)
	page, err := p.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Bytes(), 256)

	page.Bytes()[0] = 0xFF
	p.Put(page)

	page2, err := p.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, byte(0), page2.Bytes()[0], "pages must come back zeroed")
}

func TestGetBlocksUntilPut(t *testing.T) {
	p := New(256, 256)
	first, err := p.Get(context.Background())
	require.NoError(t, err)

	_, ok := p.TryGet()
	require.False(t, ok, "pool of one page must be exhausted after one Get")

	done := make(chan struct{})
	go func() {
		defer close(done)
		page, err := p.Get(context.Background())
		require.NoError(t, err)
		require.NotNil(t, page)
	}()

	select {
	case <-done:
		t.Fatal("Get returned before a page was released")
	case <-time.After(20 * time.Millisecond):
	}

	p.Put(first)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Put")
	}
}

func TestGetRespectsContextCancellation(t *testing.T) {
	p := New(256, 256)
	_, err := p.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
