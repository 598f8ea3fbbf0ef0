// Package indexer mirrors committed ledger events into a SQL database so they
// can be queried by type or by the addresses they mention.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"trustledger/core/events"
)

const defaultQueryLimit = 100

// Indexer implements events.Emitter by persisting each event payload.
// Events without a payload are ignored.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger

	mu  sync.Mutex
	seq uint64
}

// Open connects to the database selected by driver ("sqlite" or "postgres")
// and migrates the schema.
func Open(driver, dsn string, logger *slog.Logger) (*Indexer, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	return New(db, logger)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	var last uint64
	if err := db.Model(&EventRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	return &Indexer{db: db, logger: logger.With(slog.String("component", "indexer")), seq: last}, nil
}

// Emit implements events.Emitter. Persistence failures are logged; the
// ledger commit that produced the event has already happened.
func (i *Indexer) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	record := EventRecord{
		ID:   uuid.New(),
		Seq:  i.seq + 1,
		Type: event.Type,
	}
	keys := make([]string, 0, len(event.Attributes))
	for k := range event.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		record.Attributes = append(record.Attributes, EventAttribute{Key: k, Value: event.Attributes[k]})
	}
	if err := i.db.Create(&record).Error; err != nil {
		i.logger.Error("index event", slog.String("type", event.Type), slog.Any("error", err))
		return
	}
	i.seq = record.Seq
}

// Count returns the number of indexed events.
func (i *Indexer) Count(ctx context.Context) (int64, error) {
	var n int64
	err := i.db.WithContext(ctx).Model(&EventRecord{}).Count(&n).Error
	return n, err
}

// ByType returns up to limit events of the given type, oldest first.
func (i *Indexer) ByType(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	var out []EventRecord
	err := i.db.WithContext(ctx).
		Preload("Attributes").
		Where("type = ?", eventType).
		Order("seq ASC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, err
}

// ByAttribute returns up to limit events carrying key=value, oldest first.
func (i *Indexer) ByAttribute(ctx context.Context, key, value string, limit int) ([]EventRecord, error) {
	var out []EventRecord
	err := i.db.WithContext(ctx).
		Preload("Attributes").
		Joins("JOIN event_attributes ON event_attributes.event_id = event_records.id").
		Where("event_attributes.key = ? AND event_attributes.value = ?", key, value).
		Order("event_records.seq ASC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (i *Indexer) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > defaultQueryLimit {
		return defaultQueryLimit
	}
	return limit
}
