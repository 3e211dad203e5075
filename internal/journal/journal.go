// Package journal persists engine events for later inspection. It is a log
// sink: the engine never reads it back, and a disabled journal is a no-op.
package journal

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/perpwatch/perpwatch/internal/alert"
	"github.com/perpwatch/perpwatch/internal/regime"
)

// AlertRecord is one delivered or failed alert.
type AlertRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	EventID    string `gorm:"uniqueIndex"`
	Symbol     string `gorm:"index"`
	Kind       string
	Risk       int
	Direction  string
	Confidence int
	Driver     string
	Price      decimal.Decimal `gorm:"type:decimal(20,8)"`
	Status     string          // delivered, failed
	CreatedAt  time.Time
}

// RegimeShift is one committed market-regime transition.
type RegimeShift struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	From      string `gorm:"column:from_regime"`
	To        string `gorm:"column:to_regime"`
	AvgRisk   float64
	Buildups  int
	CreatedAt time.Time
}

// SystemEvent covers watchdog restarts, loop warnings and similar.
type SystemEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Type      string `gorm:"index"`
	Symbol    string
	Detail    string
	CreatedAt time.Time
}

// Journal wraps the backing store. A nil receiver or disabled journal
// accepts every record silently.
type Journal struct {
	db *gorm.DB
}

// Open connects per the DSN: empty disables journaling, postgres:// or
// postgresql:// selects Postgres, anything else is a SQLite file path.
func Open(dsn string) (*Journal, error) {
	if dsn == "" {
		return &Journal{}, nil
	}

	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("journal connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("journal initialized (SQLite)")
	}

	if err := db.AutoMigrate(&AlertRecord{}, &RegimeShift{}, &SystemEvent{}); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Enabled reports whether records are persisted.
func (j *Journal) Enabled() bool {
	return j != nil && j.db != nil
}

// RecordAlert stores one alert outcome.
func (j *Journal) RecordAlert(ev alert.Event, status string) {
	if !j.Enabled() {
		return
	}
	rec := AlertRecord{
		EventID:    ev.ID,
		Symbol:     ev.Symbol,
		Kind:       string(ev.Kind),
		Risk:       ev.Risk,
		Direction:  string(ev.Direction),
		Confidence: ev.Confidence,
		Driver:     string(ev.Driver),
		Price:      ev.Price,
		Status:     status,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Warn().Err(err).Str("event_id", ev.ID).Msg("journal alert write failed")
	}
}

// RecordRegime stores a committed regime transition.
func (j *Journal) RecordRegime(from, to regime.Regime, ms regime.MarketState) {
	if !j.Enabled() {
		return
	}
	rec := RegimeShift{
		From:     string(from),
		To:       string(to),
		AvgRisk:  ms.AvgRisk,
		Buildups: ms.Buildups,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Warn().Err(err).Msg("journal regime write failed")
	}
}

// RecordSystem stores a watchdog or pipeline event.
func (j *Journal) RecordSystem(eventType, symbol, detail string) {
	if !j.Enabled() {
		return
	}
	rec := SystemEvent{Type: eventType, Symbol: symbol, Detail: detail}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Warn().Err(err).Str("type", eventType).Msg("journal system write failed")
	}
}
