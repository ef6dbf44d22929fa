package cart

import (
	"context"
	"testing"

	"OrderSettlement/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCart(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCart()

	require.NoError(t, c.SetItem(ctx, "u1", Item{ProductID: "p2", Quantity: 1}))
	require.NoError(t, c.SetItem(ctx, "u1", Item{ProductID: "p1", Quantity: 3}))
	require.NoError(t, c.SetItem(ctx, "u2", Item{ProductID: "p1", Quantity: 1}))

	items, err := c.GetItems(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []Item{{"p1", 3}, {"p2", 1}}, items)

	require.NoError(t, c.SetItem(ctx, "u1", Item{ProductID: "p2", Quantity: 0}))
	items, _ = c.GetItems(ctx, "u1")
	assert.Equal(t, []Item{{"p1", 3}}, items)

	require.NoError(t, c.Clear(ctx, "u1"))
	items, _ = c.GetItems(ctx, "u1")
	assert.Empty(t, items)

	// other users are untouched
	items, _ = c.GetItems(ctx, "u2")
	assert.Len(t, items, 1)

	assert.ErrorIs(t, c.SetItem(ctx, "u1", Item{ProductID: "p1", Quantity: -1}), errs.ErrValidation)
}

func TestRedisCart_Key(t *testing.T) {
	c := &RedisCart{Prefix: "cart:"}
	assert.Equal(t, "cart:u1", c.key("u1"))
}
