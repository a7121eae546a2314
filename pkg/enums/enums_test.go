package enums

import "testing"

func TestParseOutboxEventTypeRoundTrip(t *testing.T) {
	for _, candidate := range validOutboxEventTypes {
		got, err := ParseOutboxEventType(string(candidate))
		if err != nil || got != candidate {
			t.Fatalf("parse %s: got %s err %v", candidate, got, err)
		}
	}
	if _, err := ParseOutboxEventType("order_created"); err == nil {
		t.Fatalf("expected unknown event type to fail")
	}
}

func TestReservationStateHolding(t *testing.T) {
	holding := map[ReservationState]bool{
		ReservationNone:      false,
		ReservationRequested: true,
		ReservationReserved:  true,
		ReservationReleased:  false,
	}
	for state, want := range holding {
		if state.Holding() != want {
			t.Fatalf("%s holding=%v want %v", state, state.Holding(), want)
		}
	}
	if got, err := ParseReservationState(""); err != nil || got != ReservationNone {
		t.Fatalf("empty state should parse as none, got %s %v", got, err)
	}
}

func TestParseOwnerKind(t *testing.T) {
	if _, err := ParseOwnerKind("admin"); err == nil {
		t.Fatalf("expected invalid owner kind")
	}
	if kind, err := ParseOwnerKind("guest"); err != nil || kind != OwnerGuest {
		t.Fatalf("unexpected parse result %s %v", kind, err)
	}
}

func TestParseMoveDirection(t *testing.T) {
	for _, candidate := range validMoveDirections {
		got, err := ParseMoveDirection(string(candidate))
		if err != nil || got != candidate || !got.IsValid() {
			t.Fatalf("parse %s: got %s err %v", candidate, got, err)
		}
	}
	if _, err := ParseMoveDirection("sideways"); err == nil {
		t.Fatal("expected unknown direction to fail")
	}
}
