package binlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	"cdc-router/internal/config"
)

// readTimeout bounds a single wait for the next binlog event
const readTimeout = 10 * time.Second

// Reader handles reading binlog events from MySQL
type Reader struct {
	syncer       *replication.BinlogSyncer
	streamer     *replication.BinlogStreamer
	position     mysql.Position
	pending      mysql.Position
	positionFile string
	logger       *logrus.Logger
}

// NewReader creates a binlog reader starting from the saved position, or
// from the configured start position when nothing was saved yet
func NewReader(cfg config.MySQLConfig, pos config.BinlogConfig, logger *logrus.Logger) (*Reader, error) {
	flavor := cfg.Flavor
	if flavor == "" {
		flavor = mysql.MySQLFlavor
	}

	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: cfg.ServerID,
		Flavor:   flavor,
		Host:     cfg.Host,
		Port:     uint16(cfg.Port),
		User:     cfg.User,
		Password: cfg.Password,
	})

	position := mysql.Position{Pos: pos.StartPosition}
	if data, err := os.ReadFile(pos.PositionFile); err == nil && len(data) > 0 {
		position = ParsePosition(string(data), pos.StartPosition)
		logger.Infof("Loaded binlog position from file: %s", position)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("Failed to read position file %s: %v", pos.PositionFile, err)
	}

	streamer, err := syncer.StartSync(position)
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("failed to start binlog sync: %w", err)
	}

	logger.Infof("Started binlog sync from position: %s", position)

	return &Reader{
		syncer:       syncer,
		streamer:     streamer,
		position:     position,
		pending:      position,
		positionFile: pos.PositionFile,
		logger:       logger,
	}, nil
}

// ParsePosition parses a saved "filename:position" string. A value without
// a usable position is taken as a bare file name starting at startPos.
func ParsePosition(s string, startPos uint32) mysql.Position {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ':'); i > 0 && i < len(s)-1 {
		if pos, err := strconv.ParseUint(s[i+1:], 10, 32); err == nil {
			return mysql.Position{Name: s[:i], Pos: uint32(pos)}
		}
	}
	return mysql.Position{Name: s, Pos: startPos}
}

// SavePosition saves the binlog position to the position file
func (r *Reader) SavePosition(name string, pos uint32) error {
	if name == "" {
		name = r.position.Name
	}
	if name == "" {
		return nil
	}
	if err := os.WriteFile(r.positionFile, []byte(fmt.Sprintf("%s:%d", name, pos)), 0644); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	r.position = mysql.Position{Name: name, Pos: pos}
	return nil
}

// Position returns the last saved position
func (r *Reader) Position() mysql.Position {
	return r.position
}

// ReadEvent waits for the next binlog event. It returns nil without an
// error when no event arrived within the read timeout. The position reached
// at the last transaction boundary is saved by the next Commit.
func (r *Reader) ReadEvent(ctx context.Context) (*replication.BinlogEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	event, err := r.streamer.GetEvent(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get binlog event: %w", err)
	}

	r.pending = NextPosition(r.pending, event)
	return event, nil
}

// NextPosition returns the resumable position after event. Only rotations
// and transaction boundaries (XID, DDL) move it: resuming inside a
// transaction would start at rows events without their table map.
func NextPosition(pos mysql.Position, event *replication.BinlogEvent) mysql.Position {
	switch e := event.Event.(type) {
	case *replication.RotateEvent:
		return mysql.Position{Name: string(e.NextLogName), Pos: uint32(e.Position)}
	case *replication.XIDEvent:
		if event.Header.LogPos > 0 {
			pos.Pos = event.Header.LogPos
		}
	case *replication.QueryEvent:
		if isDDL(string(e.Query)) && event.Header.LogPos > 0 {
			pos.Pos = event.Header.LogPos
		}
	}
	return pos
}

// Commit saves the position of the last transaction boundary returned by
// ReadEvent
func (r *Reader) Commit() error {
	if r.pending == r.position {
		return nil
	}
	return r.SavePosition(r.pending.Name, r.pending.Pos)
}

// Close closes the binlog reader
func (r *Reader) Close() {
	if r.syncer != nil {
		r.syncer.Close()
	}
}
