// Package gorm provides a database-backed session store for graphauth,
// for host programs that already carry a GORM-managed database and want the
// durable storage scope without an extra state file.
package gorm

import (
	"errors"

	"gorm.io/gorm"
)

// Entry is the GORM model for one persisted session fact.
type Entry struct {
	Key   string `gorm:"primaryKey;size:128"`
	Value string `gorm:"type:text"`
}

// TableName sets the table name for session entries.
func (Entry) TableName() string { return "graphauth_session" }

// AutoMigrate runs database migrations for the session table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

// SessionStore implements graphauth.Store using GORM.
type SessionStore struct {
	db *gorm.DB
}

// New creates a SessionStore on an existing database handle.
func New(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Get(key string) (string, bool, error) {
	var entry Entry
	err := s.db.First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (s *SessionStore) Set(key, value string) error {
	return s.db.Save(&Entry{Key: key, Value: value}).Error
}

func (s *SessionStore) Remove(key string) error {
	return s.db.Delete(&Entry{}, "key = ?", key).Error
}

func (s *SessionStore) Keys() ([]string, error) {
	var keys []string
	if err := s.db.Model(&Entry{}).Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *SessionStore) Has(key string) (bool, error) {
	var count int64
	if err := s.db.Model(&Entry{}).Where("key = ?", key).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
