package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/payloads"
)

// ItemIdentity is the (product, variant) pair a cart line is keyed by.
type ItemIdentity struct {
	ProductID uuid.UUID `json:"product_id"`
	VariantID string    `json:"variant_id,omitempty"`
}

func (i ItemIdentity) String() string {
	if i.VariantID == "" {
		return i.ProductID.String()
	}
	return i.ProductID.String() + "/" + i.VariantID
}

type ActiveCartItem struct {
	ProductID   uuid.UUID           `json:"product_id"`
	VariantID   string              `json:"variant_id,omitempty"`
	Quantity    int                 `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	Attributes  map[string]string   `json:"attributes,omitempty"`
	ProductName string              `json:"product_name,omitempty"`
	ImageURL    string              `json:"image_url,omitempty"`
	AddedAt     time.Time           `json:"added_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (i ActiveCartItem) Identity() ItemIdentity {
	return ItemIdentity{ProductID: i.ProductID, VariantID: i.VariantID}
}

// MoveLine is one line carried by a pending move.
type MoveLine struct {
	ProductID uuid.UUID `json:"product_id"`
	VariantID string    `json:"variant_id,omitempty"`
	Quantity  int       `json:"quantity"`
}

func (l MoveLine) Identity() ItemIdentity {
	return ItemIdentity{ProductID: l.ProductID, VariantID: l.VariantID}
}

// PendingMove marks a move between the two carts whose writes have not all
// landed. The next purchase side records the move id in AppliedMoves once its
// half is written, which tells a later settle which way to finish the move.
type PendingMove struct {
	ID        uuid.UUID           `json:"id"`
	Direction enums.MoveDirection `json:"direction"`
	Lines     []MoveLine          `json:"lines"`
	StartedAt time.Time           `json:"started_at"`
}

// ActiveCart is the short-lived cart document kept in the key-value store.
type ActiveCart struct {
	Owner            Owner                  `json:"owner"`
	Items            []ActiveCartItem       `json:"items"`
	LastActivityAt   time.Time              `json:"last_activity_at"`
	ExpiresAt        time.Time              `json:"expires_at"`
	ReservationState enums.ReservationState `json:"reservation_state"`
	PendingMoves     []PendingMove          `json:"pending_moves,omitempty"`
}

func NewActiveCart(owner Owner, now time.Time) *ActiveCart {
	return &ActiveCart{
		Owner:            owner,
		Items:            []ActiveCartItem{},
		LastActivityAt:   now,
		ReservationState: enums.ReservationNone,
	}
}

func (c *ActiveCart) ID() uuid.UUID {
	return c.Owner.CartID()
}

func (c *ActiveCart) find(id ItemIdentity) int {
	for i := range c.Items {
		if c.Items[i].Identity() == id {
			return i
		}
	}
	return -1
}

// Item returns a pointer into Items, or nil when the identity is absent.
func (c *ActiveCart) Item(id ItemIdentity) *ActiveCartItem {
	if idx := c.find(id); idx >= 0 {
		return &c.Items[idx]
	}
	return nil
}

func (c *ActiveCart) Has(id ItemIdentity) bool {
	return c.find(id) >= 0
}

func (c *ActiveCart) DistinctCount() int {
	return len(c.Items)
}

// Remove drops the line and returns it.
func (c *ActiveCart) Remove(id ItemIdentity) (ActiveCartItem, bool) {
	idx := c.find(id)
	if idx < 0 {
		return ActiveCartItem{}, false
	}
	removed := c.Items[idx]
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return removed, true
}

// decrement takes up to quantity units off a line, dropping it at zero, and
// returns how many units it took.
func (c *ActiveCart) decrement(id ItemIdentity, quantity int, now time.Time) int {
	line := c.Item(id)
	if line == nil {
		return 0
	}
	if line.Quantity <= quantity {
		taken := line.Quantity
		c.Remove(id)
		return taken
	}
	line.Quantity -= quantity
	line.UpdatedAt = now
	return quantity
}

// beginMove records a pending move and returns its id.
func (c *ActiveCart) beginMove(direction enums.MoveDirection, lines []MoveLine, now time.Time) uuid.UUID {
	move := PendingMove{
		ID:        uuid.New(),
		Direction: direction,
		Lines:     append([]MoveLine(nil), lines...),
		StartedAt: now,
	}
	c.PendingMoves = append(c.PendingMoves, move)
	return move.ID
}

// finishMove drops the pending move with id.
func (c *ActiveCart) finishMove(id uuid.UUID) {
	kept := c.PendingMoves[:0]
	for _, move := range c.PendingMoves {
		if move.ID != id {
			kept = append(kept, move)
		}
	}
	c.PendingMoves = kept
	if len(c.PendingMoves) == 0 {
		c.PendingMoves = nil
	}
}

// Touch records owner activity.
func (c *ActiveCart) Touch(now time.Time) {
	c.LastActivityAt = now
}

// Lines lists every line for a replace-style reservation request.
func (c *ActiveCart) Lines() []payloads.CartLine {
	lines := make([]payloads.CartLine, 0, len(c.Items))
	for _, item := range c.Items {
		lines = append(lines, payloads.CartLine{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return lines
}

// Clone deep-copies the cart so callers can hand out snapshots.
func (c *ActiveCart) Clone() *ActiveCart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]ActiveCartItem, len(c.Items))
	for i, item := range c.Items {
		item.Attributes = cloneAttributes(item.Attributes)
		out.Items[i] = item
	}
	if c.PendingMoves != nil {
		out.PendingMoves = make([]PendingMove, len(c.PendingMoves))
		for i, move := range c.PendingMoves {
			move.Lines = append([]MoveLine(nil), move.Lines...)
			out.PendingMoves[i] = move
		}
	}
	return &out
}

func cloneAttributes(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func nextPurchaseIdentity(item models.NextPurchaseCartItem) ItemIdentity {
	return ItemIdentity{ProductID: item.ProductID, VariantID: item.VariantID}
}

func findNextPurchaseItem(np *models.NextPurchaseCart, id ItemIdentity) int {
	if np == nil {
		return -1
	}
	for i := range np.Items {
		if nextPurchaseIdentity(np.Items[i]) == id {
			return i
		}
	}
	return -1
}

// NewNextPurchaseCart starts an empty durable cart for userID.
func NewNextPurchaseCart(userID uuid.UUID, now time.Time) *models.NextPurchaseCart {
	return &models.NextPurchaseCart{
		ID:             uuid.New(),
		UserID:         userID,
		LastActivityAt: now,
		Items:          []models.NextPurchaseCartItem{},
	}
}

// AddToNextPurchase sums item into np, creating the line when absent. SavedAt is
// bumped either way so the copy counts as freshly touched.
func AddToNextPurchase(np *models.NextPurchaseCart, item ActiveCartItem, quantity int, now time.Time) {
	id := item.Identity()
	if idx := findNextPurchaseItem(np, id); idx >= 0 {
		line := &np.Items[idx]
		line.Quantity += quantity
		if item.UnitPrice.Valid {
			line.LastKnownPrice = item.UnitPrice
		}
		if len(item.Attributes) > 0 {
			line.Attributes = cloneAttributes(item.Attributes)
		}
		line.SavedAt = now
		return
	}
	np.Items = append(np.Items, models.NextPurchaseCartItem{
		ID:             uuid.New(),
		CartID:         np.ID,
		ProductID:      item.ProductID,
		VariantID:      item.VariantID,
		Quantity:       quantity,
		LastKnownPrice: item.UnitPrice,
		Attributes:     cloneAttributes(item.Attributes),
		ProductName:    item.ProductName,
		ImageURL:       item.ImageURL,
		SavedAt:        now,
	})
}

// takeFromNextPurchase decrements the line by quantity, deleting it at zero.
func takeFromNextPurchase(np *models.NextPurchaseCart, id ItemIdentity, quantity int) {
	idx := findNextPurchaseItem(np, id)
	if idx < 0 {
		return
	}
	if np.Items[idx].Quantity > quantity {
		np.Items[idx].Quantity -= quantity
		return
	}
	np.Items = append(np.Items[:idx], np.Items[idx+1:]...)
}

func hasAppliedMove(np *models.NextPurchaseCart, id uuid.UUID) bool {
	if np == nil {
		return false
	}
	for _, applied := range np.AppliedMoves {
		if applied == id {
			return true
		}
	}
	return false
}

// recordAppliedMove notes that moveID's next purchase half is in np. Ids no
// longer pending on active belong to finished moves and are dropped.
func recordAppliedMove(np *models.NextPurchaseCart, active *ActiveCart, moveID uuid.UUID) {
	pruneAppliedMoves(np, active)
	if !hasAppliedMove(np, moveID) {
		np.AppliedMoves = append(np.AppliedMoves, moveID)
	}
}

// pruneAppliedMoves keeps only the applied ids active still has pending and
// reports whether any were dropped.
func pruneAppliedMoves(np *models.NextPurchaseCart, active *ActiveCart) bool {
	if np == nil || len(np.AppliedMoves) == 0 {
		return false
	}
	pending := map[uuid.UUID]struct{}{}
	if active != nil {
		for _, move := range active.PendingMoves {
			pending[move.ID] = struct{}{}
		}
	}
	kept := make([]uuid.UUID, 0, len(np.AppliedMoves))
	for _, id := range np.AppliedMoves {
		if _, ok := pending[id]; ok {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(np.AppliedMoves) {
		return false
	}
	if len(kept) == 0 {
		kept = nil
	}
	np.AppliedMoves = kept
	return true
}

func cloneNextPurchase(np *models.NextPurchaseCart) *models.NextPurchaseCart {
	if np == nil {
		return nil
	}
	out := *np
	out.Items = make([]models.NextPurchaseCartItem, len(np.Items))
	for i, item := range np.Items {
		item.Attributes = cloneAttributes(item.Attributes)
		out.Items[i] = item
	}
	out.AppliedMoves = append([]uuid.UUID(nil), np.AppliedMoves...)
	return &out
}
