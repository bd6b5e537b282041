package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
)

type ParkingRepository struct {
	db *gorm.DB
}

func NewParkingRepository(db *gorm.DB) *ParkingRepository {
	return &ParkingRepository{db: db}
}

type Vehicle struct {
	ID         int64  `gorm:"primaryKey"`
	Plate      string `gorm:"not null"`
	Normalized string `gorm:"not null;uniqueIndex"`
	CreatedAt  time.Time
}

type ParkingRecordRow struct {
	ID            int64 `gorm:"primaryKey"`
	VehicleID     *int64
	Identity      string `gorm:"not null"`
	CameraID      string `gorm:"not null"`
	EntryTime     time.Time `gorm:"not null"`
	ExitTime      *time.Time
	DurationHours *float64
	Fare          *float64
	CreatedAt     time.Time
}

type CrossingEventRow struct {
	ID        string `gorm:"primaryKey"`
	TrackID   string `gorm:"not null"`
	CameraID  string `gorm:"not null"`
	Direction string `gorm:"not null"`
	Identity  string `gorm:"not null"`
	EventTime time.Time `gorm:"not null"`
	Payload   datatypes.JSON
	CreatedAt time.Time
}

func (r *ParkingRepository) GetOrCreateVehicle(ctx context.Context, normalized, original string) (int64, error) {
	var vehicle Vehicle
	err := r.db.WithContext(ctx).Where("normalized = ?", normalized).First(&vehicle).Error
	if err == nil {
		return vehicle.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return 0, err
	}

	vehicle = Vehicle{
		Plate:      original,
		Normalized: normalized,
		CreatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&vehicle).Error; err != nil {
		return 0, err
	}
	return vehicle.ID, nil
}

func (r *ParkingRepository) CreateCrossingEvent(ctx context.Context, event parking.CrossingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	row := CrossingEventRow{
		ID:        event.ID,
		TrackID:   event.TrackID,
		CameraID:  event.CameraID,
		Direction: string(event.Direction),
		Identity:  event.Identity,
		EventTime: event.Timestamp,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *ParkingRepository) CreateParkingRecord(ctx context.Context, vehicleID *int64, rec parking.ParkingRecord) error {
	row := ParkingRecordRow{
		VehicleID: vehicleID,
		Identity:  rec.Identity,
		CameraID:  rec.CameraID,
		EntryTime: rec.EntryTime,
		CreatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// CompleteParkingRecord fills the exit fields of the open record for the
// identity. At most one open record exists per identity, matching the
// ledger's single-active-record invariant.
func (r *ParkingRepository) CompleteParkingRecord(ctx context.Context, rec parking.ParkingRecord) error {
	return r.db.WithContext(ctx).
		Model(&ParkingRecordRow{}).
		Where("identity = ? AND exit_time IS NULL", rec.Identity).
		Updates(map[string]interface{}{
			"exit_time":      rec.ExitTime,
			"duration_hours": rec.DurationHours,
			"fare":           rec.Fare,
		}).Error
}

func (r *ParkingRepository) FindRecords(ctx context.Context, identity *string, from, to *time.Time, limit, offset int) ([]ParkingRecordRow, error) {
	query := r.db.WithContext(ctx).Model(&ParkingRecordRow{})

	if identity != nil {
		query = query.Where("identity = ?", *identity)
	}
	if from != nil {
		query = query.Where("entry_time >= ?", *from)
	}
	if to != nil {
		query = query.Where("entry_time <= ?", *to)
	}

	query = query.Order("entry_time DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []ParkingRecordRow
	err := query.Find(&rows).Error
	return rows, err
}

func (r *ParkingRepository) FindEvents(ctx context.Context, identity *string, from, to *time.Time, limit, offset int) ([]CrossingEventRow, error) {
	query := r.db.WithContext(ctx).Model(&CrossingEventRow{})

	if identity != nil {
		query = query.Where("identity = ?", *identity)
	}
	if from != nil {
		query = query.Where("event_time >= ?", *from)
	}
	if to != nil {
		query = query.Where("event_time <= ?", *to)
	}

	query = query.Order("event_time DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []CrossingEventRow
	err := query.Find(&rows).Error
	return rows, err
}

// DeleteOldEvents removes crossing events older than the given number of
// days. Completed parking records are kept; they are the billing
// history.
func (r *ParkingRepository) DeleteOldEvents(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).
		Where("event_time < ?", cutoff).
		Delete(&CrossingEventRow{})
	return res.RowsAffected, res.Error
}
