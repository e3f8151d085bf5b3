package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/poker-planning-backend/internal/engine"
	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

// SessionArchive is the persisted form of a session: the full, unredacted
// snapshot plus a few columns for listing.
type SessionArchive struct {
	ID        string    `gorm:"primaryKey;size:16"`
	Name      string    `gorm:"not null"`
	HostID    string    `gorm:"size:64"`
	Snapshot  []byte    `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type Repository struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to Postgres and migrates the archive table.
func Open(dsn string, log *zap.Logger) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.AutoMigrate(&SessionArchive{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Repository{db: db, log: log.Named("store")}, nil
}

func (r *Repository) Save(ctx context.Context, s protocol.Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (r *Repository) Load(ctx context.Context, id string) (protocol.Session, error) {
	var row SessionArchive
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return protocol.Session{}, engine.ErrSessionNotFound
	}
	if err != nil {
		return protocol.Session{}, fmt.Errorf("load session %s: %w", id, err)
	}
	r.log.Debug("session loaded", zap.String("session", id))
	return fromRow(row)
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(s protocol.Session) (SessionArchive, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return SessionArchive{}, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return SessionArchive{
		ID:        s.ID,
		Name:      s.Name,
		HostID:    s.HostID,
		Snapshot:  raw,
		CreatedAt: s.CreatedAt,
	}, nil
}

func fromRow(row SessionArchive) (protocol.Session, error) {
	var s protocol.Session
	if err := json.Unmarshal(row.Snapshot, &s); err != nil {
		return protocol.Session{}, fmt.Errorf("decode session %s: %w", row.ID, err)
	}
	return s, nil
}
