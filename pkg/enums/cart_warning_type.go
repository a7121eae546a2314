package enums

import "fmt"

// CartWarningType enumerates the soft adjustments surfaced alongside a cart snapshot.
type CartWarningType string

const (
	CartWarningPriceChanged       CartWarningType = "price_changed"
	CartWarningPriceUnverified    CartWarningType = "price_unverified"
	CartWarningStockUnverified    CartWarningType = "stock_unverified"
	CartWarningProductUnavailable CartWarningType = "product_info_unavailable"
	CartWarningStaleCart          CartWarningType = "stale_cart"
	CartWarningMergeConflict      CartWarningType = "merge_conflict"
)

var validCartWarningTypes = []CartWarningType{
	CartWarningPriceChanged,
	CartWarningPriceUnverified,
	CartWarningStockUnverified,
	CartWarningProductUnavailable,
	CartWarningStaleCart,
	CartWarningMergeConflict,
}

// String implements fmt.Stringer.
func (c CartWarningType) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c CartWarningType) IsValid() bool {
	for _, candidate := range validCartWarningTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCartWarningType converts raw input into a CartWarningType.
func ParseCartWarningType(value string) (CartWarningType, error) {
	for _, candidate := range validCartWarningTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cart warning type %q", value)
}
