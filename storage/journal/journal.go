// Package journal keeps an append-only, queryable copy of committed ledger
// events in a relational database. The ledger itself never reads it back.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nhbcdp/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultLimit = 100
	maxLimit     = 1000
)

var (
	ErrUnknownDriver = errors.New("journal: unknown driver")
	ErrDSNRequired   = errors.New("journal: dsn must be configured")
)

// Entry is one journaled event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	Ilk        string    `gorm:"size:64;index"`
	Token      string    `gorm:"size:32;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName pins the table so renaming the type does not migrate data.
func (Entry) TableName() string { return "cdp_events" }

// Decode returns the attribute map of the entry.
func (e *Entry) Decode() (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(e.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &out); err != nil {
		return nil, fmt.Errorf("journal: decode attributes: %w", err)
	}
	return out, nil
}

// AutoMigrate performs the schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

// Journal persists events handed to Emit. It is safe for concurrent use.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// Open connects to driver at dsn and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db, log)
}

// New wraps an open database, migrating it first.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: nil database")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	j := &Journal{db: db, logger: log, now: time.Now}
	var last Entry
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	j.seq = last.Sequence
	return j, nil
}

// Emit implements events.Emitter. Write failures are logged and do not
// reach the ledger.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.logger.Warn("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt and returns the new entry.
func (j *Journal) Append(ctx context.Context, evt events.Event) (*Entry, error) {
	payload := evt.Event()
	if payload == nil {
		return nil, errors.New("journal: event without payload")
	}
	raw, err := json.Marshal(payload.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry := &Entry{
		ID:         uuid.New(),
		Sequence:   j.seq + 1,
		Type:       payload.Type,
		Ilk:        payload.Attr("ilk"),
		Token:      payload.Attr("token"),
		Attributes: string(raw),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("journal: insert: %w", err)
	}
	j.seq = entry.Sequence
	return entry, nil
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Type  string
	Ilk   string
	Token string
	After uint64 // only entries with a larger sequence
	Limit int
}

// List returns matching entries in sequence order.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	q := j.db.WithContext(ctx).Model(&Entry{})
	if t := strings.TrimSpace(f.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if ilk := strings.TrimSpace(f.Ilk); ilk != "" {
		q = q.Where("ilk = ?", ilk)
	}
	if tok := strings.ToUpper(strings.TrimSpace(f.Token)); tok != "" {
		q = q.Where("token = ?", tok)
	}
	if f.After > 0 {
		q = q.Where("sequence > ?", f.After)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var out []Entry
	if err := q.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
