package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/polyplay/internal/shared"
)

// Setting is one persisted key/value pair of backend configuration, e.g. audiostation.base_url.
type Setting struct {
	id        string
	backend   Backend
	key       string
	value     string
	createdAt time.Time
	updatedAt time.Time
}

// NewSetting creates a [Setting] with timestamps set to now. The ID is assigned by the repository.
func NewSetting(backend Backend, key, value string) *Setting {
	now := time.Now()
	return &Setting{
		backend:   backend,
		key:       strings.TrimSpace(key),
		value:     value,
		createdAt: now,
		updatedAt: now,
	}
}

// RestoreSetting rebuilds a [Setting] from stored columns.
func RestoreSetting(id string, backend Backend, key, value string, createdAt, updatedAt time.Time) *Setting {
	return &Setting{id: id, backend: backend, key: key, value: value, createdAt: createdAt, updatedAt: updatedAt}
}

func (s *Setting) ID() string { return s.id }
func (s *Setting) Backend() Backend { return s.backend }
func (s *Setting) Key() string { return s.key }
func (s *Setting) Value() string { return s.value }
func (s *Setting) CreatedAt() time.Time { return s.createdAt }
func (s *Setting) UpdatedAt() time.Time { return s.updatedAt }

func (s *Setting) SetID(id string) { s.id = id }
func (s *Setting) SetValue(v string) { s.value = v }
func (s *Setting) SetUpdatedAt(t time.Time) { s.updatedAt = t }

// Validate checks that the setting names a known backend and a non-empty key.
func (s *Setting) Validate() error {
	if _, err := ParseBackend(string(s.backend)); err != nil {
		return err
	}
	if s.key == "" {
		return fmt.Errorf("%w: setting key is required", shared.ErrInvalidConfig)
	}
	return nil
}
