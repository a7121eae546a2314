package router

import (
	"context"

	"github.com/angelmondragon/dualcart-backend/internal/analytics/types"
)

type fakeWriter struct {
	inserted []types.CartEventRow
}

func (f *fakeWriter) InsertCartEvent(_ context.Context, row types.CartEventRow) error {
	f.inserted = append(f.inserted, row)
	return nil
}
