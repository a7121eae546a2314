package enums

// ReservationReleaseReason explains why held stock went back to inventory.
type ReservationReleaseReason string

const (
	ReleaseReasonExpired             ReservationReleaseReason = "expired"
	ReleaseReasonCleared             ReservationReleaseReason = "cleared"
	ReleaseReasonMovedToNextPurchase ReservationReleaseReason = "moved_to_next_purchase"
	ReleaseReasonMerged              ReservationReleaseReason = "merged"
)
