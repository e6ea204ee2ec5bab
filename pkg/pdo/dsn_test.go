package pdo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSNMySQL(t *testing.T) {
	dsn, err := ParseDSN("mysql:host=db.example.com;port=3307;dbname=app;charset=utf8mb4")
	require.NoError(t, err)
	assert.Equal(t, "mysql", dsn.Driver)
	assert.Equal(t, "db.example.com", dsn.Host)
	assert.Equal(t, 3307, dsn.Port)
	assert.Equal(t, "app", dsn.Database)
	assert.Equal(t, "utf8mb4", dsn.Options["charset"])
}

func TestParseDSNDefaultPorts(t *testing.T) {
	mysql, err := ParseDSN("mysql:host=localhost;dbname=x")
	require.NoError(t, err)
	assert.Equal(t, 3306, mysql.Port)

	pgsql, err := ParseDSN("pgsql:host=localhost;dbname=x")
	require.NoError(t, err)
	assert.Equal(t, 5432, pgsql.Port)
}

func TestParseDSNSQLiteIsAPath(t *testing.T) {
	dsn, err := ParseDSN("sqlite:/var/data/app.db")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", dsn.Driver)
	assert.Equal(t, "/var/data/app.db", dsn.Database)
}

func TestParseDSNRejectsMissingDriver(t *testing.T) {
	_, err := ParseDSN("not-a-dsn")
	assert.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := ParseDSN("mysql:host=h;port=3306;dbname=d")
	require.NoError(t, err)
	out := BuildMySQLDSN(dsn, "u", "p")
	assert.Equal(t, "u:p@tcp(h:3306)/d", out)
}

func TestBuildPostgreSQLDSNDisablesSSLByDefault(t *testing.T) {
	dsn, err := ParseDSN("pgsql:host=h;dbname=d")
	require.NoError(t, err)
	out := BuildPostgreSQLDSN(dsn, "u", "")
	assert.Contains(t, out, "sslmode=disable")
	assert.Contains(t, out, "dbname=d")
}

func TestBuildSQLiteDSNMemorySharedCache(t *testing.T) {
	dsn, err := ParseDSN("sqlite::memory:")
	require.NoError(t, err)
	assert.Equal(t, "file::memory:?mode=memory&cache=shared", BuildSQLiteDSN(dsn))

	file, err := ParseDSN("sqlite:/tmp/x.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", BuildSQLiteDSN(file))
}
