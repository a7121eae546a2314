package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dualcart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
)

func TestNextPurchaseRepositorySaveReplacesLines(t *testing.T) {
	ctx := context.Background()
	repo := NewNextPurchaseRepository(dbtest.Open(t))
	userID := uuid.New()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	np := NewNextPurchaseCart(userID, now)
	first, second := uuid.New(), uuid.New()
	AddToNextPurchase(np, ActiveCartItem{ProductID: first, Quantity: 1, UnitPrice: price("3.00"), Attributes: map[string]string{"size": "m"}}, 1, now)
	AddToNextPurchase(np, ActiveCartItem{ProductID: second, VariantID: "blue", Quantity: 2}, 2, now.Add(time.Second))
	_, err := repo.Save(ctx, np)
	require.NoError(t, err)

	loaded, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Items, 2)
	assert.Equal(t, first, loaded.Items[0].ProductID)
	assert.Equal(t, "m", loaded.Items[0].Attributes["size"])
	assert.True(t, loaded.Items[0].LastKnownPrice.Decimal.Equal(price("3.00").Decimal))
	assert.False(t, loaded.Items[1].LastKnownPrice.Valid)

	takeFromNextPurchase(loaded, ItemIdentity{ProductID: first}, 1)
	_, err = repo.Save(ctx, loaded)
	require.NoError(t, err)

	reloaded, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.Len(t, reloaded.Items, 1)
	assert.Equal(t, "blue", reloaded.Items[0].VariantID)
	assert.Equal(t, np.ID, reloaded.ID)
}

func TestNextPurchaseRepositoryKeepsAppliedMoves(t *testing.T) {
	ctx := context.Background()
	repo := NewNextPurchaseRepository(dbtest.Open(t))
	userID := uuid.New()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	moveID := uuid.New()

	np := NewNextPurchaseCart(userID, now)
	AddToNextPurchase(np, ActiveCartItem{ProductID: uuid.New(), Quantity: 1}, 1, now)
	np.AppliedMoves = []uuid.UUID{moveID}
	_, err := repo.Save(ctx, np)
	require.NoError(t, err)

	loaded, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{moveID}, loaded.AppliedMoves)

	loaded.AppliedMoves = nil
	_, err = repo.Save(ctx, loaded)
	require.NoError(t, err)

	reloaded, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.AppliedMoves)
}

func TestNextPurchaseRepositoryMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewNextPurchaseRepository(dbtest.Open(t))
	userID := uuid.New()

	missing, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, missing)
	require.NoError(t, repo.Delete(ctx, userID))

	np := NewNextPurchaseCart(userID, time.Now().UTC())
	AddToNextPurchase(np, ActiveCartItem{ProductID: uuid.New(), Quantity: 1}, 1, time.Now().UTC())
	_, err = repo.Save(ctx, np)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, userID))

	gone, err := repo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestNextPurchaseRepositoryAbandonment(t *testing.T) {
	ctx := context.Background()
	repo := NewNextPurchaseRepository(dbtest.Open(t))
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	idle := NewNextPurchaseCart(uuid.New(), now.Add(-30*time.Hour))
	AddToNextPurchase(idle, ActiveCartItem{ProductID: uuid.New(), Quantity: 1}, 1, now.Add(-30*time.Hour))
	recent := NewNextPurchaseCart(uuid.New(), now.Add(-time.Hour))
	AddToNextPurchase(recent, ActiveCartItem{ProductID: uuid.New(), Quantity: 1}, 1, now.Add(-time.Hour))
	empty := NewNextPurchaseCart(uuid.New(), now.Add(-40*time.Hour))
	for _, np := range []*models.NextPurchaseCart{idle, recent, empty} {
		_, err := repo.Save(ctx, np)
		require.NoError(t, err)
	}

	q := AbandonmentQuery{InactiveSince: now.Add(-24 * time.Hour), NotifiedBefore: now.Add(-48 * time.Hour), MaxNotifications: 2}
	candidates, err := repo.ListAbandonmentCandidates(ctx, q, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, idle.ID, candidates[0].ID)

	ok, err := repo.RecordAbandonmentNotice(ctx, idle.ID, 0, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.RecordAbandonmentNotice(ctx, idle.ID, 0, now)
	require.NoError(t, err)
	assert.False(t, ok, "a stale counter must not record a second notice")

	candidates, err = repo.ListAbandonmentCandidates(ctx, q, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates, "interval not yet elapsed")
}
