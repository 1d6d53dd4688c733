package testutil

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"checkin-backend/lib/telemetry"

	_ "modernc.org/sqlite"
)

// SetupDB opens an in-memory sqlite database with the given schema and
// sets up telemetry for the test.
func SetupDB(t testing.TB, name, schema string) (*sql.DB, func()) {
	cleanup := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", name))

	sqlite, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if schema != "" {
		_, err = sqlite.Exec(schema)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			t.Fatal(err)
		}
	}

	return sqlite, cleanup
}
