package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesGoroutineAndSignalsDone(t *testing.T) {
	names := make(chan string, 1)

	done := Go(context.Background(), "pump", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "done channel MUST close after fn returns")
	}
	assert.Equal(t, "pump", <-names)
}

func TestGo_NilParentAndCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	//nolint:staticcheck // nil parent is a supported input
	done := Go(nil, "background", func(context.Context) {})
	<-done

	stopped := Go(ctx, "worker", func(ctx context.Context) {
		<-ctx.Done()
	})
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		require.Fail(t, "worker MUST observe parent cancellation")
	}
}

func TestGetName_Unnamed(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	//nolint:staticcheck // nil context is handled
	assert.Empty(t, GetName(nil))
}
