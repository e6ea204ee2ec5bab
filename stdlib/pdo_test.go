package stdlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/heyvm/values"
)

func pdoCall(t *testing.T, name string, args ...*values.Value) *values.Value {
	t.Helper()
	entry, ok := ByName(name)
	require.True(t, ok, name)
	out, err := entry.Fn(nil, args)
	require.NoError(t, err)
	return out
}

func TestPDOSQLiteEndToEnd(t *testing.T) {
	conn := pdoCall(t, "pdo_connect", values.NewString("sqlite::memory:"))
	require.True(t, conn.IsResource(), "pdo_connect hands back a resource handle")

	affected := pdoCall(t, "pdo_exec", conn,
		values.NewString("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"))
	require.False(t, affected.IsBool(), "DDL must not report failure")

	pdoCall(t, "pdo_exec", conn, values.NewString("INSERT INTO users (name) VALUES ('ana')"))
	pdoCall(t, "pdo_exec", conn, values.NewString("INSERT INTO users (name) VALUES ('bob')"))

	lastID := pdoCall(t, "pdo_last_insert_id", conn)
	assert.Equal(t, int64(2), lastID.ToInt())

	rows := pdoCall(t, "pdo_query", conn, values.NewString("SELECT name FROM users ORDER BY id"))
	require.True(t, rows.IsArray())
	require.Equal(t, 2, rows.ArrayCount())
	first := rows.ArrayGet(values.NewInt(0))
	assert.Equal(t, "ana", first.ArrayGet(values.NewString("name")).ToString())
	second := rows.ArrayGet(values.NewInt(1))
	assert.Equal(t, "bob", second.ArrayGet(values.NewString("name")).ToString())

	closed := pdoCall(t, "pdo_close", conn)
	assert.True(t, closed.ToBool())
}

func TestPDOConnectRejectsBadDSN(t *testing.T) {
	out := pdoCall(t, "pdo_connect", values.NewString("no-driver-here"))
	assert.True(t, out.IsBool())
	assert.False(t, out.ToBool())

	out = pdoCall(t, "pdo_query", values.NewString("not a resource"), values.NewString("SELECT 1"))
	assert.False(t, out.ToBool(), "querying a non-connection reports failure")
}
