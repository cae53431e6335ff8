package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStoreMem()
	ctx := context.Background()

	id, err := s.Create(ctx, &Task{
		Query:      "latest go gc changes",
		TargetURLs: []string{"https://example.com/a", "https://example.com/b"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 2, got.TotalTargets)
	assert.Len(t, got.TargetURLs, 2)
}

func TestGetMissing(t *testing.T) {
	s := NewStoreMem()
	got, err := s.Get(context.Background(), "task-nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdate(t *testing.T) {
	s := NewStoreMem()
	ctx := context.Background()
	id, _ := s.Create(ctx, &Task{Query: "q", TargetURLs: []string{"https://example.com"}})

	got, _ := s.Get(ctx, id)
	got.Status = StatusCompletedWithWarnings
	got.ValidatedCount = 2
	got.UnreachableCount = 1
	require.NoError(t, s.Update(ctx, got))

	got, _ = s.Get(ctx, id)
	assert.Equal(t, StatusCompletedWithWarnings, got.Status)
	assert.Equal(t, 2, got.ValidatedCount)
	assert.Equal(t, 1, got.UnreachableCount)
}

func TestUpdateMissing(t *testing.T) {
	s := NewStoreMem()
	err := s.Update(context.Background(), &Task{ID: "task-nope"})
	require.Error(t, err)
}

func TestTryFinalizeOnlyOnce(t *testing.T) {
	s := NewStoreMem()
	ctx := context.Background()
	id, _ := s.Create(ctx, &Task{Query: "q", TargetURLs: []string{"https://example.com"}})

	got, _ := s.Get(ctx, id)
	got.Status = StatusCompleted
	got.ValidatedCount = 1

	done, err := s.TryFinalize(ctx, got)
	require.NoError(t, err)
	assert.True(t, done)

	// 并发收敛者中的第二个：任务已终态，写入不生效
	got.Status = StatusFailed
	done, err = s.TryFinalize(ctx, got)
	require.NoError(t, err)
	assert.False(t, done)

	fresh, _ := s.Get(ctx, id)
	assert.Equal(t, StatusCompleted, fresh.Status)
	assert.Equal(t, 1, fresh.ValidatedCount)
}

func TestTryFinalizeMissing(t *testing.T) {
	s := NewStoreMem()
	_, err := s.TryFinalize(context.Background(), &Task{ID: "task-nope", Status: StatusCompleted})
	require.Error(t, err)
}

func TestRequestCancel(t *testing.T) {
	s := NewStoreMem()
	ctx := context.Background()
	id, _ := s.Create(ctx, &Task{Query: "q", TargetURLs: []string{"https://example.com"}})

	require.NoError(t, s.RequestCancel(ctx, id))
	got, _ := s.Get(ctx, id)
	assert.True(t, got.CancelRequested)
}

func TestRequestCancelTerminalIsNoop(t *testing.T) {
	s := NewStoreMem()
	ctx := context.Background()
	id, _ := s.Create(ctx, &Task{Query: "q", TargetURLs: []string{"https://example.com"}})

	got, _ := s.Get(ctx, id)
	got.Status = StatusCompleted
	require.NoError(t, s.Update(ctx, got))

	require.NoError(t, s.RequestCancel(ctx, id))
	got, _ = s.Get(ctx, id)
	assert.False(t, got.CancelRequested)
}

func TestMutatingReturnedCopyDoesNotLeak(t *testing.T) {
	s := NewStoreMem()
	ctx := context.Background()
	id, _ := s.Create(ctx, &Task{Query: "q", TargetURLs: []string{"https://example.com"}})

	got, _ := s.Get(ctx, id)
	got.TargetURLs[0] = "https://evil.example.com"
	got.Status = StatusFailed

	fresh, _ := s.Get(ctx, id)
	assert.Equal(t, "https://example.com", fresh.TargetURLs[0])
	assert.Equal(t, StatusPending, fresh.Status)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusFetching.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCompletedWithWarnings.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
