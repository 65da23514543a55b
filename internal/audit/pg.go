package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// auditRow is the relational shape of a Record. The full record travels in
// the payload column; the indexed columns exist for filtering and stats.
type auditRow struct {
	ID                string    `gorm:"primaryKey;size:64"`
	CycleID           string    `gorm:"size:64;uniqueIndex"`
	Symbol            string    `gorm:"size:32;index:idx_audit_records_symbol_ts"`
	Timestamp         time.Time `gorm:"index:idx_audit_records_symbol_ts"`
	WasExecuted       bool
	InputHash         string `gorm:"size:64"`
	ConfigHash        string `gorm:"size:64"`
	Error             string
	ReplayCount       int
	LastReplayAt      *time.Time
	LastReplayMatched *bool
	DurationMS        float64 `gorm:"column:duration_ms"`
	Payload           []byte  `gorm:"type:jsonb"`
}

func (auditRow) TableName() string {
	return "audit_records"
}

// PGStore persists audit records in PostgreSQL through gorm.
type PGStore struct {
	db *gorm.DB
}

// NewPGStore wraps an open gorm handle.
func NewPGStore(db *gorm.DB) (*PGStore, error) {
	if db == nil {
		return nil, errors.New("audit: nil db handle")
	}
	return &PGStore{db: db}, nil
}

// Migrate creates or updates the audit table.
func (s *PGStore) Migrate() error {
	if err := s.db.AutoMigrate(&auditRow{}); err != nil {
		return errors.Wrap(err, "migrate audit records")
	}
	return nil
}

// Save upserts the record keyed by cycle id.
func (s *PGStore) Save(ctx context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal audit record")
	}
	row := auditRow{
		ID:                record.ID,
		CycleID:           record.CycleID,
		Symbol:            record.Symbol,
		Timestamp:         record.Timestamp,
		WasExecuted:       record.WasExecuted,
		InputHash:         record.InputHash,
		ConfigHash:        record.ConfigHash,
		Error:             record.Error,
		ReplayCount:       record.ReplayCount,
		LastReplayAt:      record.LastReplayAt,
		LastReplayMatched: record.LastReplayMatched,
		DurationMS:        record.DurationMS,
		Payload:           payload,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cycle_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "save audit record")
	}
	return nil
}

// Get fetches by record id.
func (s *PGStore) Get(ctx context.Context, id string) (Record, error) {
	return s.getWhere(ctx, "id = ?", id)
}

// GetByCycle fetches by cycle id.
func (s *PGStore) GetByCycle(ctx context.Context, cycleID string) (Record, error) {
	return s.getWhere(ctx, "cycle_id = ?", cycleID)
}

func (s *PGStore) getWhere(ctx context.Context, cond string, arg any) (Record, error) {
	var row auditRow
	err := s.db.WithContext(ctx).Where(cond, arg).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return Record{}, ErrNotFound
		}
		return Record{}, errors.Wrap(err, "fetch audit record")
	}
	return decodeRow(row)
}

// List returns matching records, newest first.
func (s *PGStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := s.db.WithContext(ctx).Model(&auditRow{}).Order("timestamp DESC")
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.ExecutedOnly {
		query = query.Where("was_executed = ?", true)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []auditRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list audit records")
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// Stats aggregates the trail with SQL counts.
func (s *PGStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Symbols: make(map[string]int64)}
	model := func() *gorm.DB { return s.db.WithContext(ctx).Model(&auditRow{}) }

	if err := model().Count(&stats.Total).Error; err != nil {
		return stats, errors.Wrap(err, "count audit records")
	}
	if err := model().Where("was_executed = ?", true).Count(&stats.Executed).Error; err != nil {
		return stats, errors.Wrap(err, "count executed records")
	}
	if err := model().Where("replay_count > 0").Count(&stats.Replayed).Error; err != nil {
		return stats, errors.Wrap(err, "count replayed records")
	}
	if err := model().Where("error <> ''").Count(&stats.Errors).Error; err != nil {
		return stats, errors.Wrap(err, "count errored records")
	}

	var rows []struct {
		Symbol string
		Count  int64
	}
	if err := model().Select("symbol, count(*) as count").Group("symbol").Scan(&rows).Error; err != nil {
		return stats, errors.Wrap(err, "count records per symbol")
	}
	for _, row := range rows {
		stats.Symbols[row.Symbol] = row.Count
	}
	return stats, nil
}

func decodeRow(row auditRow) (Record, error) {
	var record Record
	if err := json.Unmarshal(row.Payload, &record); err != nil {
		return Record{}, errors.Wrap(err, "decode audit payload")
	}
	// replay fields are updated via upsert; the columns are authoritative
	record.ReplayCount = row.ReplayCount
	record.LastReplayAt = row.LastReplayAt
	record.LastReplayMatched = row.LastReplayMatched
	return record, nil
}
