package db

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"net/url"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/secret"
)

type fakeResolver struct {
	creds *secret.DBCredentials
	err   error
}

func (f fakeResolver) DBCredentials(ctx context.Context, name string) (*secret.DBCredentials, error) {
	return f.creds, f.err
}

func TestResolveTarget(t *testing.T) {
	ctx := context.Background()

	target, err := ResolveTarget(ctx, config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	require.Equal(t, Target{Driver: DriverSQLite, DSN: ":memory:"}, target)

	target, err = ResolveTarget(ctx, config.DatabaseConfig{Driver: "postgres", Host: "pg", User: "u", Password: "p", DBName: "logs"}, nil)
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, target.Driver)
	require.Equal(t, "postgres://u:p@pg:5432/logs?sslmode=disable", target.DSN)

	resolver := fakeResolver{creds: &secret.DBCredentials{
		Host: "rds.local", Username: "rag", Password: "pw", DBName: "rag_logs", Engine: "mysql",
	}}
	target, err = ResolveTarget(ctx, config.DatabaseConfig{Driver: "postgres", SecretName: "creds"}, resolver)
	require.NoError(t, err)
	require.Equal(t, DriverMySQL, target.Driver)
	require.True(t, strings.HasPrefix(target.DSN, "rag:pw@tcp(rds.local:3306)/rag_logs"))

	_, err = ResolveTarget(ctx, config.DatabaseConfig{SecretName: "creds"}, fakeResolver{err: errors.New("denied")})
	require.Error(t, err)

	_, err = ResolveTarget(ctx, config.DatabaseConfig{SecretName: "creds"}, nil)
	require.Error(t, err)
}

func TestResolveTargetPostgresEscapesCredentials(t *testing.T) {
	resolver := fakeResolver{creds: &secret.DBCredentials{
		Host: "db", Username: "app", Password: "p@ss word'x", DBName: "logs", Engine: "postgres",
	}}
	target, err := ResolveTarget(context.Background(), config.DatabaseConfig{SecretName: "creds"}, resolver)
	require.NoError(t, err)

	u, err := url.Parse(target.DSN)
	require.NoError(t, err)
	password, _ := u.User.Password()
	require.Equal(t, "p@ss word'x", password)
	require.Equal(t, "app", u.User.Username())
	require.Equal(t, "db:5432", u.Host)
	require.Equal(t, "disable", u.Query().Get("sslmode"))

	_, err = pq.NewConnector(target.DSN)
	require.NoError(t, err)
}

func TestMigrationsStoreUnboundedReferences(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverMySQL, DriverSQLite} {
		raw, err := fs.ReadFile(migrationsFS, "migrations/"+driver+"/0001_query_logs.sql")
		require.NoError(t, err)
		require.Contains(t, string(raw), "document_reference TEXT", driver)
	}
}

func TestApplyMigrationsSQLite(t *testing.T) {
	conn, err := Open(context.Background(), Target{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, ApplyMigrations(conn, DriverSQLite))
	require.NoError(t, ApplyMigrations(conn, DriverSQLite))

	var count int
	require.NoError(t, conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('query_logs', 'retrieved_documents')",
	).Scan(&count))
	require.Equal(t, 2, count)

	require.Error(t, ApplyMigrations(conn, "oracle"))
}

func TestSessionLazyOpenAndReopen(t *testing.T) {
	opens := 0
	s := NewSession(func(ctx context.Context) (*sql.DB, string, error) {
		opens++
		conn, err := Open(ctx, Target{Driver: DriverSQLite, DSN: ":memory:"})
		return conn, DriverSQLite, err
	})
	require.False(t, s.Opened())
	require.NoError(t, s.Close())

	first, err := s.DB(context.Background())
	require.NoError(t, err)
	second, err := s.DB(context.Background())
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, DriverSQLite, s.Driver())
	require.Equal(t, 1, opens)

	require.NoError(t, s.Close())
	require.False(t, s.Opened())
	_, err = s.DB(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, opens)
	require.NoError(t, s.Close())
}

func TestRebind(t *testing.T) {
	require.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", Rebind(DriverPostgres, "SELECT 1 WHERE a = ? AND b = ?"))
	require.Equal(t, "SELECT 1 WHERE a = ?", Rebind(DriverMySQL, "SELECT 1 WHERE a = ?"))
	require.Equal(t, "SELECT 1 WHERE a = ?", Rebind(DriverSQLite, "SELECT 1 WHERE a = ?"))
}
