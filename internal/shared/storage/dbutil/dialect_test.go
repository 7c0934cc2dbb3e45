package dbutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

type questionDialect struct{}

func (questionDialect) DriverType() DriverType       { return DriverSQLite }
func (questionDialect) Rebind(q string) string       { return StripPgCasts(RebindToQuestion(q)) }
func (questionDialect) CurrentTimestamp() string     { return "datetime('now')" }
func (questionDialect) AutoMigrate(db *sql.DB) error { return nil }
func (questionDialect) UpsertConflict(c string, u []string) string {
	return UpsertOnConflict(c, u)
}

func TestRebindToQuestion(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?",
		RebindToQuestion("SELECT * FROM t WHERE a = $1 AND b = $2"))
	assert.Equal(t, "SELECT $1", RebindToPositional("SELECT $1"))
}

func TestStripPgCasts(t *testing.T) {
	assert.Equal(t, "INSERT INTO t (data) VALUES ($1)", StripPgCasts("INSERT INTO t (data) VALUES ($1::jsonb)"))
}

func TestUpsertOnConflict(t *testing.T) {
	assert.Equal(t, "ON CONFLICT (context_key) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data",
		UpsertOnConflict("context_key", []string{"status = EXCLUDED.status", "data = EXCLUDED.data"}))
}

func TestBuildDynamicQuery(t *testing.T) {
	d := questionDialect{}
	assert.Equal(t, "SELECT data FROM c WHERE tenant_id = ? AND status = ? ORDER BY id",
		BuildDynamicQuery(d, "SELECT data FROM c", []string{"tenant_id = $1", "status = $2"}, "ORDER BY id"))
	assert.Equal(t, "SELECT data FROM c", BuildDynamicQuery(d, "SELECT data FROM c", nil, ""))
}
