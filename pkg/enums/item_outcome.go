package enums

// ItemOutcome tags each line of a batch cart operation (merge, activation).
type ItemOutcome string

const (
	ItemOutcomeSucceeded           ItemOutcome = "succeeded"
	ItemOutcomeSkippedOutOfStock   ItemOutcome = "skipped_out_of_stock"
	ItemOutcomeSkippedPriceChanged ItemOutcome = "skipped_price_changed"
	ItemOutcomeFailed              ItemOutcome = "failed"
)

func (o ItemOutcome) Succeeded() bool {
	return o == ItemOutcomeSucceeded
}
