package store

import (
	"os"
	"testing"
)

// TestMySQLStore validates MySQLStore against a real MySQL server.
//
// Prerequisites:
//   - MySQL server running (local, Docker, or cloud)
//   - TEST_MYSQL_DSN environment variable set with the connection string
//   - Database user with CREATE, INSERT, SELECT, UPDATE, DELETE permissions
//
// Example:
//
//	export TEST_MYSQL_DSN="user:password@tcp(localhost:3306)/taskvault_test"
//	go test -run TestMySQLStore ./task/store
func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL integration test: set TEST_MYSQL_DSN to run")
	}

	st, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	storeUnderTest(t, st)
}
