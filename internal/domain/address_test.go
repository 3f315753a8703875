package domain

import (
	"testing"
)

func TestAddressDerivationIsDeterministic(t *testing.T) {
	if UserAddress("alice") != UserAddress("alice") {
		t.Error("expected identical addresses for the same identity")
	}
	if ReserveAddress() != ReserveAddress() {
		t.Error("expected a stable reserve address")
	}
}

func TestAddressNamespacesAreDisjoint(t *testing.T) {
	addrs := map[Address]string{
		ReserveAddress():     "reserve",
		UserAddress("alice"): "user/alice",
		LoanAddress("alice"): "loan/alice",
		UserAddress("bob"):   "user/bob",
		LoanAddress("bob"):   "loan/bob",
	}
	if len(addrs) != 5 {
		t.Errorf("expected 5 distinct addresses, got %d: %v", len(addrs), addrs)
	}
}

func TestAddressString(t *testing.T) {
	s := UserAddress("alice").String()
	if len(s) != 64 {
		t.Errorf("expected 64 hex characters, got %d (%q)", len(s), s)
	}
}

func TestLoanStateOf(t *testing.T) {
	if got := LoanStateOf(nil); got != LoanStateNone {
		t.Errorf("expected none, got %s", got)
	}
	if got := LoanStateOf(NewLoanRecord("alice")); got != LoanStateDormant {
		t.Errorf("expected dormant, got %s", got)
	}
	active := &LoanRecord{Owner: "alice", LoanAmount: 100, Repaid: false}
	if got := LoanStateOf(active); got != LoanStateActive {
		t.Errorf("expected active, got %s", got)
	}
}
