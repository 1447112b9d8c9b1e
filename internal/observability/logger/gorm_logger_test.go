package logger

import "testing"

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM ledger_transactions":                       "SELECT",
		"  insert into statement_periods (id) values (1)":         "INSERT",
		"WITH due AS (SELECT 1) UPDATE invoices SET amount_paid=1": "SELECT",
		"":               "UNKNOWN",
		"VACUUM ANALYZE": "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestIsLockingRead(t *testing.T) {
	if !isLockingRead(`SELECT * FROM account_balances WHERE customer_id = 1 FOR UPDATE`) {
		t.Fatalf("expected FOR UPDATE to be detected")
	}
	if isLockingRead(`SELECT * FROM account_balances`) {
		t.Fatalf("plain select reported as locking")
	}
}
