package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/secret"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// Target is a resolved driver and DSN pair.
type Target struct {
	Driver string
	DSN    string
}

// ResolveTarget builds the connection target. A configured secret takes
// precedence over inline connection fields.
func ResolveTarget(ctx context.Context, cfg config.DatabaseConfig, resolver secret.Resolver) (Target, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	if cfg.DSN != "" {
		return Target{Driver: driver, DSN: cfg.DSN}, nil
	}
	host, port, user, password, dbname := cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName
	if cfg.SecretName != "" {
		if resolver == nil {
			return Target{}, fmt.Errorf("secret resolver is required for %s", cfg.SecretName)
		}
		creds, err := resolver.DBCredentials(ctx, cfg.SecretName)
		if err != nil {
			return Target{}, err
		}
		host, port, user, password, dbname = creds.Host, creds.Port, creds.Username, creds.Password, creds.DBName
		if engine := driverForEngine(creds.Engine); engine != "" {
			driver = engine
		}
	}
	switch driver {
	case DriverPostgres:
		if port == 0 {
			port = 5432
		}
		sslmode := cfg.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		u := &url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(user, password),
			Host:     net.JoinHostPort(host, strconv.Itoa(port)),
			Path:     "/" + dbname,
			RawQuery: url.Values{"sslmode": []string{sslmode}}.Encode(),
		}
		return Target{Driver: driver, DSN: u.String()}, nil
	case DriverMySQL:
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = user
		mc.Passwd = password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
		mc.DBName = dbname
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return Target{Driver: driver, DSN: mc.FormatDSN()}, nil
	case DriverSQLite:
		if dbname == "" {
			return Target{}, fmt.Errorf("sqlite requires database.dsn or database.dbname")
		}
		return Target{Driver: driver, DSN: dbname}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func driverForEngine(engine string) string {
	engine = strings.ToLower(engine)
	switch {
	case strings.Contains(engine, "postgres"):
		return DriverPostgres
	case strings.Contains(engine, "mysql"), strings.Contains(engine, "mariadb"):
		return DriverMySQL
	default:
		return ""
	}
}

func Open(ctx context.Context, target Target) (*sql.DB, error) {
	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, err
	}
	if target.Driver == DriverSQLite {
		// One connection keeps :memory: databases and the pragma consistent.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ApplyMigrations(db *sql.DB, driver string) error {
	dir := "migrations/" + driver
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("no migrations for driver %s: %w", driver, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(migrationsFS, dir+"/"+file)
		if err != nil {
			return err
		}
		queries := strings.Split(string(content), ";")
		for _, q := range queries {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if _, err := db.Exec(q); err != nil {
				if isAlreadyExists(err) {
					continue
				}
				return fmt.Errorf("execute query in %s: %w", file, err)
			}
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "Duplicate key name")
}

// Rebind converts ? placeholders to the driver's bind style.
func Rebind(driver, query string) string {
	return sqlx.Rebind(sqlx.BindType(driver), query)
}
