package journal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"xficredit/core/events"
	"xficredit/core/types"
	"xficredit/observability"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	sinkName        = "journal"
)

// ErrUnknownDriver is returned by Open for drivers other than sqlite and
// postgres.
var ErrUnknownDriver = errors.New("journal: unknown driver")

// Record is one persisted ledger event. Seq orders events; ID is a content
// hash clients can use to deduplicate deliveries from the stream and the
// publisher.
type Record struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID         string    `gorm:"size:64;uniqueIndex" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name across drivers.
func (Record) TableName() string { return "ledger_events" }

// Event decodes the stored attributes back into transport form.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(r.Attributes) != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("journal: decode attributes of %s: %w", r.ID, err)
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Journal appends every emitted event to a SQL table. It implements
// events.Emitter; write failures are logged and counted but never surface to
// the ledger that emitted the event.
type Journal struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *observability.EventMetricsRegistry
	now     func() time.Time
	timeout time.Duration
}

// Open connects to driver ("sqlite" or "postgres") at dsn and migrates the
// schema.
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: db required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{
		db:      db,
		logger:  slog.Default(),
		metrics: observability.Events(),
		now:     time.Now,
		timeout: 5 * time.Second,
	}, nil
}

// SetLogger overrides the structured logger.
func (j *Journal) SetLogger(logger *slog.Logger) {
	if j == nil || logger == nil {
		return
	}
	j.logger = logger
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

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, err := j.Append(ctx, events.Flatten(evt))
	j.metrics.RecordDelivery(sinkName, err)
	if err != nil {
		j.logger.Error("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append persists evt and returns the stored record.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (*Record, error) {
	if j == nil {
		return nil, errors.New("journal: not configured")
	}
	if evt == nil {
		return nil, errors.New("journal: nil event")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}
	created := j.now().UTC()
	rec := &Record{
		ID:         EventID(evt, created),
		Type:       evt.Type,
		Attributes: string(encoded),
		CreatedAt:  created,
	}
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("journal: insert: %w", err)
	}
	return rec, nil
}

// List returns up to limit records with Seq greater than after, oldest first.
func (j *Journal) List(ctx context.Context, after uint64, limit int) ([]Record, error) {
	if j == nil {
		return nil, errors.New("journal: not configured")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	var out []Record
	err := j.db.WithContext(ctx).
		Where("seq > ?", after).
		Order("seq ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return out, nil
}

// EventID hashes the event type, its attributes in key order and the
// creation time.
func EventID(evt *types.Event, created time.Time) string {
	h := blake3.New(32, nil)
	h.Write([]byte(evt.Type))
	keys := make([]string, 0, len(evt.Attributes))
	for key := range evt.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		h.Write([]byte{0})
		h.Write([]byte(key))
		h.Write([]byte{'='})
		h.Write([]byte(evt.Attributes[key]))
	}
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(created.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}
