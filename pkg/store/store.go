// Package store is the relational Persistent Store for employees and
// attendance records. It runs on SQLite by default and on MySQL for shared
// deployments, both through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DateFormat is the layout of AttendanceRecord.Date.
const DateFormat = "2006-01-02"

// Employee is an enrolled person.
type Employee struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"size:191;not null;uniqueIndex" json:"name"`
	RegisteredDate time.Time `gorm:"not null" json:"registered_date"`
}

// TableName sets the employees table name.
func (Employee) TableName() string {
	return "employees"
}

// AttendanceRecord is one employee's attendance for one day. At most one
// record exists per (EmployeeName, Date).
type AttendanceRecord struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	EmployeeName string     `gorm:"size:191;not null;uniqueIndex:idx_attendance_employee_date" json:"employee_name"`
	Date         string     `gorm:"size:10;not null;uniqueIndex:idx_attendance_employee_date;index" json:"date"`
	CheckIn      *time.Time `json:"check_in"`
	CheckOut     *time.Time `json:"check_out"`
}

// TableName sets the attendance table name.
func (AttendanceRecord) TableName() string {
	return "attendance"
}

// ErrEmployeeNotFound is returned when no employee has the given id.
var ErrEmployeeNotFound = errors.New("employee not found")

// ErrEmployeeExists is returned when adding a name that is already enrolled.
var ErrEmployeeExists = errors.New("employee already exists")

// ErrRecordNotFound is returned when no attendance record matches.
var ErrRecordNotFound = errors.New("attendance record not found")

// Store implements the Persistent Store on gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the database and migrates the schema. driver is
// "sqlite" (dsn is a file path or ":memory:") or "mysql".
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		// One connection keeps ":memory:" databases shared and avoids
		// SQLITE_BUSY between writers.
		sqlDB.SetMaxOpenConns(1)
	}

	s, err := New(db)
	if err != nil {
		return nil, err
	}
	logging.Component("store").WithField("driver", driver).Info("database ready")
	return s, nil
}

// New wraps an existing gorm connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Employee{}, &AttendanceRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetClock replaces the time source used for registration dates.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(
		logging.Logger,
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// EmployeeExists reports whether an employee with exactly this name exists.
func (s *Store) EmployeeExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Employee{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check employee: %w", err)
	}
	return count > 0, nil
}

// AddEmployee inserts an employee registered now and returns its id.
func (s *Store) AddEmployee(ctx context.Context, name string) (uint, error) {
	exists, err := s.EmployeeExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrEmployeeExists
	}

	emp := Employee{Name: name, RegisteredDate: s.now()}
	if err := s.db.WithContext(ctx).Create(&emp).Error; err != nil {
		return 0, fmt.Errorf("failed to add employee: %w", err)
	}
	return emp.ID, nil
}

// GetAllEmployees returns every employee in registration order.
func (s *Store) GetAllEmployees(ctx context.Context) ([]Employee, error) {
	var employees []Employee
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&employees).Error; err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	return employees, nil
}

// GetEmployee returns the employee with the given id.
func (s *Store) GetEmployee(ctx context.Context, id uint) (*Employee, error) {
	var emp Employee
	err := s.db.WithContext(ctx).First(&emp, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return &emp, nil
}

// DeleteEmployee removes the employee and all of their attendance records
// in one transaction and returns the deleted row.
func (s *Store) DeleteEmployee(ctx context.Context, id uint) (*Employee, error) {
	var emp Employee
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&emp, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEmployeeNotFound
			}
			return err
		}
		if err := tx.Where("employee_name = ?", emp.Name).Delete(&AttendanceRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete attendance: %w", err)
		}
		if err := tx.Delete(&Employee{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete employee: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEmployeeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to delete employee %d: %w", id, err)
	}
	return &emp, nil
}

// GetTodaysAttendance returns all records for date.
func (s *Store) GetTodaysAttendance(ctx context.Context, date string) ([]AttendanceRecord, error) {
	var records []AttendanceRecord
	err := s.db.WithContext(ctx).Where("date = ?", date).Order("check_in ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance for %s: %w", date, err)
	}
	return records, nil
}

// FindAttendance returns the record for (name, date).
func (s *Store) FindAttendance(ctx context.Context, name, date string) (*AttendanceRecord, error) {
	var rec AttendanceRecord
	err := s.db.WithContext(ctx).Where("employee_name = ? AND date = ?", name, date).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attendance: %w", err)
	}
	return &rec, nil
}

// HasCheckedIn reports whether (name, date) has a record with a check-in.
func (s *Store) HasCheckedIn(ctx context.Context, name, date string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AttendanceRecord{}).
		Where("employee_name = ? AND date = ? AND check_in IS NOT NULL", name, date).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check attendance: %w", err)
	}
	return count > 0, nil
}

// HasCheckedOut reports whether (name, date) has a check-out.
func (s *Store) HasCheckedOut(ctx context.Context, name, date string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AttendanceRecord{}).
		Where("employee_name = ? AND date = ? AND check_out IS NOT NULL", name, date).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check attendance: %w", err)
	}
	return count > 0, nil
}

// MarkAttendance inserts a record dated by checkIn.
func (s *Store) MarkAttendance(ctx context.Context, name string, checkIn time.Time, checkOut *time.Time) (*AttendanceRecord, error) {
	in := checkIn
	rec := AttendanceRecord{
		EmployeeName: name,
		Date:         checkIn.Format(DateFormat),
		CheckIn:      &in,
		CheckOut:     checkOut,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to mark attendance: %w", err)
	}
	return &rec, nil
}

// UpdateCheckIn sets check_in on the record for (name, date) that has none,
// such as a row entered by hand. A missing or already checked in record
// yields ErrRecordNotFound.
func (s *Store) UpdateCheckIn(ctx context.Context, name, date string, t time.Time) error {
	res := s.db.WithContext(ctx).Model(&AttendanceRecord{}).
		Where("employee_name = ? AND date = ? AND check_in IS NULL", name, date).
		Update("check_in", t)
	if res.Error != nil {
		return fmt.Errorf("failed to update check-in: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// UpdateCheckout sets check_out on the open record for (name, date).
// A missing, closed or never checked in record yields ErrRecordNotFound.
func (s *Store) UpdateCheckout(ctx context.Context, name, date string, t time.Time) error {
	res := s.db.WithContext(ctx).Model(&AttendanceRecord{}).
		Where("employee_name = ? AND date = ? AND check_in IS NOT NULL AND check_out IS NULL", name, date).
		Update("check_out", t)
	if res.Error != nil {
		return fmt.Errorf("failed to update checkout: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// GetAttendanceBetweenDates returns records with from <= date <= to,
// newest day first.
func (s *Store) GetAttendanceBetweenDates(ctx context.Context, from, to string) ([]AttendanceRecord, error) {
	var records []AttendanceRecord
	err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", from, to).
		Order("date DESC").Order("check_in ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance report: %w", err)
	}
	return records, nil
}

// DeleteAttendanceRecord removes one record by id.
func (s *Store) DeleteAttendanceRecord(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&AttendanceRecord{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete attendance record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
