//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestTestDB_FixtureLoaded(t *testing.T) {
	testDB := GetTestDB(t)

	ctx := context.Background()

	tests := []struct {
		table    string
		expected int
	}{
		{"parent", 5},
		{"child", 7},
	}

	for _, tt := range tests {
		var count int
		err := testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+tt.table).Scan(&count)
		if err != nil {
			t.Errorf("failed to count %s: %v", tt.table, err)
			continue
		}
		if count != tt.expected {
			t.Errorf("expected %d rows in %s, got %d", tt.expected, tt.table, count)
		}
	}
}

func TestTestDB_Credentials(t *testing.T) {
	testDB := GetTestDB(t)

	creds := testDB.Credentials()
	if v, _ := creds.Get("database"); v != testDB.Database() {
		t.Errorf("expected database %q, got %q", testDB.Database(), v)
	}
	if _, ok := creds.Get("port"); !ok {
		t.Error("expected mapped port in credentials")
	}
}
