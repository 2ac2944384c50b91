// Package connection provides persistence operations for provider
// connections and their health records.
package connection

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/db/models"
)

var (
	// ErrConnectionNotFound is returned when a connection is not found.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrConnectionDisabled is returned when an operation requires an enabled connection.
	ErrConnectionDisabled = errors.New("connection is disabled")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Get retrieves a connection by its ID.
func Get(db *gorm.DB, id uint) (*models.Connection, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var conn models.Connection
	result := db.First(&conn, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, result.Error
	}

	return &conn, nil
}

// GetEnabled retrieves all connections that are not disabled.
func GetEnabled(db *gorm.DB) ([]models.Connection, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var conns []models.Connection
	result := db.Where("is_disabled = ?", false).Find(&conns)
	if result.Error != nil {
		return nil, result.Error
	}

	return conns, nil
}

// MarkSynced records a successful sync run: stamps synced_at, clears all
// error fields and resets the consecutive failure counter.
func MarkSynced(db *gorm.DB, id uint, at time.Time) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.Connection{}).Where("id = ?", id).Updates(map[string]interface{}{
		"synced_at":            at,
		"errored_at":           nil,
		"error_message":        "",
		"error_email_count":    0,
		"consecutive_failures": 0,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConnectionNotFound
	}

	return nil
}

// MarkErrored records a failed sync run: stamps errored_at and the error
// message, bumps the error email throttle counter and the consecutive
// failure counter.
func MarkErrored(db *gorm.DB, id uint, at time.Time, message string) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.Connection{}).Where("id = ?", id).Updates(map[string]interface{}{
		"errored_at":           at,
		"error_message":        message,
		"error_email_count":    gorm.Expr("error_email_count + 1"),
		"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConnectionNotFound
	}

	return nil
}

// Disable marks a connection disabled with the given reason. Disabled
// connections are skipped by the scheduler until an administrator
// re-enables them.
func Disable(db *gorm.DB, id uint, reason string) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.Connection{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_disabled":     true,
		"disabled_reason": reason,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConnectionNotFound
	}

	return nil
}

// Enable re-enables a disabled connection and clears its failure state.
// Called from the administrative surface, never from the orchestrator.
func Enable(db *gorm.DB, id uint) error {
	if db == nil {
		return ErrDBNil
	}

	result := db.Model(&models.Connection{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_disabled":          false,
		"disabled_reason":      "",
		"consecutive_failures": 0,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConnectionNotFound
	}

	return nil
}
