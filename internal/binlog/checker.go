package binlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"cdc-router/internal/config"
)

var requiredPrivileges = []string{
	"REPLICATION SLAVE",
	"REPLICATION CLIENT",
	"SELECT",
}

// Checker validates the MySQL connection and replication prerequisites
type Checker struct {
	cfg    config.MySQLConfig
	logger *logrus.Logger
}

// NewChecker creates a new MySQL checker
func NewChecker(cfg config.MySQLConfig, logger *logrus.Logger) *Checker {
	return &Checker{
		cfg:    cfg,
		logger: logger,
	}
}

// Check verifies connectivity, replication grants, and that binary logging
// is on. A binlog_format other than ROW is reported as a warning.
func (c *Checker) Check(ctx context.Context) error {
	db, err := sql.Open("mysql", DSN(c.cfg))
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	c.logger.Info("Successfully connected to MySQL server")

	grants, err := c.grants(ctx, db)
	if err != nil {
		return err
	}
	if missing := MissingPrivileges(grants); len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s", strings.Join(missing, ", "), strings.Join(grants, "; "))
	}
	c.logger.Info("All required permissions verified")

	logBin, err := variable(ctx, db, "log_bin")
	if err != nil {
		c.logger.Warn("Could not verify binlog status")
	} else if !isOn(logBin) {
		return fmt.Errorf("binary logging (log_bin) is not enabled. Current value: %s. Enable it in MySQL configuration", logBin)
	} else {
		c.logger.Info("Binary logging is enabled")
	}

	format, err := variable(ctx, db, "binlog_format")
	switch {
	case err != nil:
		c.logger.Warn("Could not verify binlog_format")
	case !strings.EqualFold(format, "ROW"):
		c.logger.Warnf("binlog_format is set to '%s', but ROW format is required for row change events", format)
	default:
		c.logger.Info("binlog_format is set to ROW")
	}

	return nil
}

func (c *Checker) grants(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		// MySQL 5.6
		rows, err = db.QueryContext(ctx, "SHOW GRANTS")
		if err != nil {
			return nil, fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grants: %w", err)
	}
	return grants, nil
}

// MissingPrivileges returns the replication privileges not covered by the
// given grant statements. ALL PRIVILEGES covers everything.
func MissingPrivileges(grants []string) []string {
	all := strings.ToUpper(strings.Join(grants, "; "))
	if strings.Contains(all, "ALL PRIVILEGES") {
		return nil
	}

	var missing []string
	for _, priv := range requiredPrivileges {
		if !strings.Contains(all, priv) {
			missing = append(missing, priv)
		}
	}
	return missing
}

func variable(ctx context.Context, db *sql.DB, name string) (string, error) {
	var varName, value string
	err := db.QueryRowContext(ctx, "SHOW VARIABLES LIKE ?", name).Scan(&varName, &value)
	if err == nil {
		return value, nil
	}
	if err := db.QueryRowContext(ctx, "SELECT @@"+name).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

func isOn(v string) bool {
	return v == "1" || strings.EqualFold(v, "ON")
}
