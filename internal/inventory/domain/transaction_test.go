package domain

import (
	"testing"
	"time"
)

func TestTransactionCode(t *testing.T) {
	at := time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC)

	cases := []struct {
		typ  TransactionType
		seq  int64
		want string
	}{
		{TypeReserve, 1, "RES-29082026-1"},
		{TypeRelease, 2, "REL-29082026-2"},
		{TypeExport, 14, "EXP-29082026-14"},
		{TypeImport, 3, "IMP-29082026-3"},
		{TypeAdjust, 101, "ADJ-29082026-101"},
		{TransactionType("BOGUS"), 1, "TXN-29082026-1"},
	}
	for _, c := range cases {
		if got := TransactionCode(c.typ, at, c.seq); got != c.want {
			t.Errorf("TransactionCode(%s) = %q, want %q", c.typ, got, c.want)
		}
	}
}

func TestTransactionTypeValid(t *testing.T) {
	for _, typ := range []TransactionType{TypeReserve, TypeRelease, TypeExport, TypeImport, TypeAdjust} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if TransactionType("EXPIRE").Valid() {
		t.Error("unknown type should be invalid")
	}
}

func TestTransactionStatusFinal(t *testing.T) {
	if TxPending.Final() {
		t.Error("PENDING must not be final")
	}
	if !TxCompleted.Final() || !TxCancelled.Final() {
		t.Error("COMPLETED and CANCELLED must be final")
	}
}

func TestStatusForAvailable(t *testing.T) {
	cases := []struct {
		available int
		want      AvailabilityStatus
	}{
		{-3, StatusOutOfStock},
		{0, StatusOutOfStock},
		{1, StatusLowStock},
		{10, StatusLowStock},
		{11, StatusAvailable},
		{500, StatusAvailable},
	}
	for _, c := range cases {
		if got := StatusForAvailable(c.available); got != c.want {
			t.Errorf("StatusForAvailable(%d) = %s, want %s", c.available, got, c.want)
		}
	}
}

func TestStockRecordAvailable(t *testing.T) {
	rec := StockRecord{Quantity: 20, ReservedQuantity: 5}
	if rec.Available() != 15 {
		t.Errorf("Available() = %d, want 15", rec.Available())
	}
}
