package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"motoreg-bot/internal/models"
	"motoreg-bot/internal/util"
)

type participantRow struct {
	ID               string `gorm:"primaryKey;type:varchar(36)"`
	FullName         string `gorm:"not null"`
	MotoNumber       string `gorm:"uniqueIndex;not null"`
	Category         string `gorm:"index;not null"`
	Phone            string
	Residence        string
	RegistrationDate time.Time `gorm:"not null;index"`
	AccessCode       string    `gorm:"index;size:4"`
	TgID             int64     `gorm:"index"`
}

func (participantRow) TableName() string { return "participants" }

// entryRow.ParticipantID is a weak reference: no foreign key, so deleting a
// participant leaves its entries behind as orphans.
type entryRow struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)"`
	ParticipantID string    `gorm:"index;not null"`
	Timestamp     time.Time `gorm:"not null"`
}

func (entryRow) TableName() string { return "transponder_entries" }

type settingRow struct {
	Key   string `gorm:"primaryKey;column:name"`
	Value string
}

func (settingRow) TableName() string { return "settings" }

// SQLite persists the state in three tables of an embedded database.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" works for
// tests.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&participantRow{}, &entryRow{}, &settingRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context) (models.State, error) {
	db := s.db.WithContext(ctx)
	st := models.State{RegistrationOpen: true}

	var prows []participantRow
	if err := db.Order("registration_date DESC, rowid DESC").Find(&prows).Error; err != nil {
		return st, fmt.Errorf("load participants: %w", err)
	}
	for _, r := range prows {
		st.Participants = append(st.Participants, models.Participant{
			ID:               r.ID,
			FullName:         r.FullName,
			MotoNumber:       r.MotoNumber,
			Category:         models.Category(r.Category),
			Phone:            r.Phone,
			Residence:        r.Residence,
			RegistrationDate: r.RegistrationDate,
			AccessCode:       r.AccessCode,
			TgID:             r.TgID,
		})
	}

	var erows []entryRow
	if err := db.Order("timestamp DESC, rowid DESC").Find(&erows).Error; err != nil {
		return st, fmt.Errorf("load entries: %w", err)
	}
	for _, r := range erows {
		st.Entries = append(st.Entries, models.TransponderEntry{
			ID:            r.ID,
			ParticipantID: r.ParticipantID,
			Timestamp:     r.Timestamp,
		})
	}

	if v, ok, err := s.setting(db, SettingRegistrationOpen); err != nil {
		return st, err
	} else if ok {
		if open, valid := util.ParseBool(v); valid {
			st.RegistrationOpen = open
		}
	}
	if v, ok, err := s.setting(db, SettingRaceName); err != nil {
		return st, err
	} else if ok {
		st.RaceName = v
	}
	return st, nil
}

func (s *SQLite) setting(db *gorm.DB, key string) (string, bool, error) {
	var row settingRow
	err := db.Where("name = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load setting %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *SQLite) Apply(ctx context.Context, changes []Change) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range changes {
			if err := applyChange(tx, c); err != nil {
				return fmt.Errorf("%s: %w", c.Kind, err)
			}
		}
		return nil
	})
}

func applyChange(tx *gorm.DB, c Change) error {
	switch c.Kind {
	case ParticipantAdded:
		p := c.Participant
		return tx.Create(&participantRow{
			ID:               p.ID,
			FullName:         p.FullName,
			MotoNumber:       p.MotoNumber,
			Category:         string(p.Category),
			Phone:            p.Phone,
			Residence:        p.Residence,
			RegistrationDate: p.RegistrationDate,
			AccessCode:       p.AccessCode,
			TgID:             p.TgID,
		}).Error
	case ParticipantDeleted:
		return tx.Where("id = ?", c.ID).Delete(&participantRow{}).Error
	case EntryAdded:
		e := c.Entry
		return tx.Create(&entryRow{ID: e.ID, ParticipantID: e.ParticipantID, Timestamp: e.Timestamp}).Error
	case EntryDeleted:
		return tx.Where("id = ?", c.ID).Delete(&entryRow{}).Error
	case EntriesCleared:
		return tx.Where("1 = 1").Delete(&entryRow{}).Error
	case SettingChanged:
		return tx.Save(&settingRow{Key: c.Key, Value: c.Value}).Error
	case StateReset:
		for _, model := range []any{&entryRow{}, &participantRow{}, &settingRow{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
