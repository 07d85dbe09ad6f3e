package binlog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"cdc-router/internal/config"
)

// Column describes one table column as reported by INFORMATION_SCHEMA
type Column struct {
	Name    string
	Type    string // COLUMN_TYPE, e.g. varchar(255)
	Primary bool
}

// ColumnCatalog looks up the columns of a table in ordinal order
type ColumnCatalog interface {
	Columns(ctx context.Context, database, table string) ([]Column, error)
	Invalidate(database, table string)
}

// SQLCatalog reads column metadata from INFORMATION_SCHEMA and caches it
// per table
type SQLCatalog struct {
	db     *sql.DB
	mu     sync.Mutex
	cache  map[string][]Column
	logger *logrus.Logger
}

// DSN builds a driver DSN for cfg without a default database
func DSN(cfg config.MySQLConfig) string {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = cfg.Host + ":" + strconv.Itoa(cfg.Port)
	dsn.Timeout = 10 * time.Second
	return dsn.FormatDSN()
}

// OpenCatalog connects to MySQL for metadata lookups
func OpenCatalog(ctx context.Context, cfg config.MySQLConfig, logger *logrus.Logger) (*SQLCatalog, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL server: %w", err)
	}

	return &SQLCatalog{
		db:     db,
		cache:  make(map[string][]Column),
		logger: logger,
	}, nil
}

// Columns returns the cached columns of database.table, querying
// INFORMATION_SCHEMA on first use
func (c *SQLCatalog) Columns(ctx context.Context, database, table string) ([]Column, error) {
	cacheKey := database + "." + table

	c.mu.Lock()
	cols, ok := c.cache[cacheKey]
	c.mu.Unlock()
	if ok {
		return cols, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, COLUMN_KEY
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var col Column
		var key string
		if err := rows.Scan(&col.Name, &col.Type, &key); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		col.Primary = key == "PRI"
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	c.mu.Lock()
	c.cache[cacheKey] = cols
	c.mu.Unlock()
	c.logger.Debugf("Fetched %d columns for %s", len(cols), cacheKey)

	return cols, nil
}

// Invalidate drops the cached columns of a table after a schema change
func (c *SQLCatalog) Invalidate(database, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if table == "" {
		for k := range c.cache {
			delete(c.cache, k)
		}
		return
	}
	delete(c.cache, database+"."+table)
}

// Close closes the database handle
func (c *SQLCatalog) Close() error {
	return c.db.Close()
}
