package binlog

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	"cdc-router/internal/models"
)

// Source turns binlog row events into change events
type Source struct {
	reader  *Reader
	catalog ColumnCatalog
	logger  *logrus.Logger
}

// NewSource creates a change-event source over a binlog reader
func NewSource(reader *Reader, catalog ColumnCatalog, logger *logrus.Logger) *Source {
	return &Source{
		reader:  reader,
		catalog: catalog,
		logger:  logger,
	}
}

// ReadEvents returns the change events of the next binlog event. Calling it
// again acknowledges the previous batch and saves the binlog position once a
// transaction has been read completely.
func (s *Source) ReadEvents(ctx context.Context) ([]*models.ChangeEvent, error) {
	if err := s.reader.Commit(); err != nil {
		s.logger.Warnf("Failed to save position: %v", err)
	}

	event, err := s.reader.ReadEvent(ctx)
	if err != nil || event == nil {
		return nil, err
	}

	switch e := event.Event.(type) {
	case *replication.RowsEvent:
		op := operationOf(event.Header.EventType)
		if op == models.OpUnknown {
			s.logger.Debugf("Unhandled row event type: %d", event.Header.EventType)
			return nil, nil
		}

		database := string(e.Table.Schema)
		table := string(e.Table.Table)
		columns, err := s.columns(ctx, e.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to get column info for %s.%s: %w", database, table, err)
		}

		ts := int64(event.Header.Timestamp) * 1000
		return BuildEvents(op, database, table, columns, e.Rows, ts), nil

	case *replication.QueryEvent:
		if isDDL(string(e.Query)) {
			s.logger.Debugf("Schema change in %s, dropping cached columns", string(e.Schema))
			s.catalog.Invalidate(string(e.Schema), "")
		}

	case *replication.RotateEvent:
		s.logger.Infof("Binlog rotated to: %s", string(e.NextLogName))
	}
	return nil, nil
}

// columns prefers the names carried in the table map (binlog_row_metadata
// FULL) and takes types and key flags from the catalog
func (s *Source) columns(ctx context.Context, tm *replication.TableMapEvent) ([]Column, error) {
	cols, err := s.catalog.Columns(ctx, string(tm.Schema), string(tm.Table))
	if err != nil {
		if len(tm.ColumnName) == 0 {
			return nil, err
		}
		s.logger.Warnf("Failed to get column types: %v, continuing without type info", err)
		cols = nil
	}
	if len(tm.ColumnName) == 0 {
		return cols, nil
	}

	named := make([]Column, len(tm.ColumnName))
	for i, name := range tm.ColumnName {
		named[i].Name = string(name)
		if i < len(cols) {
			named[i].Type = cols[i].Type
			named[i].Primary = cols[i].Primary
		}
	}
	return named, nil
}

func operationOf(t replication.EventType) models.Operation {
	switch t {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return models.OpCreate
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return models.OpUpdate
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return models.OpDelete
	default:
		return models.OpUnknown
	}
}

func isDDL(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "ALTER", "CREATE", "DROP", "RENAME", "TRUNCATE":
		return true
	default:
		return false
	}
}

// BuildEvents converts the row images of one rows event into change
// events. Update images come in before/after pairs. The key is made of the
// primary-key columns, or of every column when the table has none.
func BuildEvents(op models.Operation, database, table string, columns []Column, rows [][]interface{}, ts int64) []*models.ChangeEvent {
	hints := make(map[string]string, len(columns))
	for _, c := range columns {
		if c.Type != "" {
			hints[c.Name] = c.Type
		}
	}

	newEvent := func(before, after models.Row) *models.ChangeEvent {
		image := after
		if image == nil {
			image = before
		}
		return &models.ChangeEvent{
			Operation: op,
			Database:  database,
			Table:     table,
			Timestamp: ts,
			Before:    before,
			After:     after,
			Key:       keyOf(image, columns),
			TypeHints: hints,
		}
	}

	var events []*models.ChangeEvent
	switch op {
	case models.OpUpdate:
		for i := 0; i+1 < len(rows); i += 2 {
			events = append(events, newEvent(toRow(rows[i], columns), toRow(rows[i+1], columns)))
		}
	case models.OpDelete:
		for _, r := range rows {
			events = append(events, newEvent(toRow(r, columns), nil))
		}
	default:
		for _, r := range rows {
			events = append(events, newEvent(nil, toRow(r, columns)))
		}
	}
	return events
}

func toRow(values []interface{}, columns []Column) models.Row {
	row := make(models.Row, 0, len(values))
	for i, v := range values {
		var col Column
		if i < len(columns) {
			col = columns[i]
		} else {
			col.Name = fmt.Sprintf("col_%d", i)
		}
		row = append(row, models.Field{Name: col.Name, Value: convertValue(v, col.Type)})
	}
	return row
}

func keyOf(image models.Row, columns []Column) models.Row {
	var key models.Row
	for _, c := range columns {
		if !c.Primary {
			continue
		}
		if v, ok := image.Get(c.Name); ok {
			key = append(key, models.Field{Name: c.Name, Value: v})
		}
	}
	if len(key) == 0 {
		return image.Clone()
	}
	return key
}

// convertValue turns text columns delivered as bytes into strings. Binary
// columns stay []byte.
func convertValue(value interface{}, columnType string) interface{} {
	b, ok := value.([]byte)
	if !ok {
		return value
	}

	t := strings.ToLower(columnType)
	switch {
	case strings.Contains(t, "binary"), strings.Contains(t, "blob"), t == "bit" || strings.HasPrefix(t, "bit("):
		return b
	case t == "":
		if utf8.Valid(b) {
			return string(b)
		}
		return b
	default:
		return string(b)
	}
}
