package studio

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markethub/livecommerce/internal/models"
)

func TestMemoryHistory_NewestFirst(t *testing.T) {
	h := NewMemoryHistory(10)
	ctx := context.Background()
	studioID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Append(ctx, models.LiveSessionRecord{ID: uuid.New(), StudioID: studioID, TotalLikes: i}))
	}
	list, err := h.List(ctx, studioID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 2, list[0].TotalLikes)
	assert.Equal(t, 0, list[2].TotalLikes)
}

func TestMemoryHistory_Cap(t *testing.T) {
	h := NewMemoryHistory(2)
	ctx := context.Background()
	studioID := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(ctx, models.LiveSessionRecord{StudioID: studioID, TotalLikes: i}))
	}
	list, _ := h.List(ctx, studioID)
	require.Len(t, list, 2)
	assert.Equal(t, 4, list[0].TotalLikes)
	assert.Equal(t, 3, list[1].TotalLikes)
}

func TestMemoryHistory_PerStudioAndCopy(t *testing.T) {
	h := NewMemoryHistory(0)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	require.NoError(t, h.Append(ctx, models.LiveSessionRecord{StudioID: a, BestPlatform: "YouTube Live"}))

	list, _ := h.List(ctx, b)
	assert.Empty(t, list)

	list, _ = h.List(ctx, a)
	list[0].BestPlatform = "mutated"
	again, _ := h.List(ctx, a)
	assert.Equal(t, "YouTube Live", again[0].BestPlatform)
}
