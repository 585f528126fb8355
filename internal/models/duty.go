package models

import (
	"time"

	"gorm.io/gorm"
)

type DutyStatus string

const (
	DutyStatusOpen   DutyStatus = "OPEN"
	DutyStatusFilled DutyStatus = "FILLED"
)

type ApplicationStatus string

const (
	ApplicationStatusPending   ApplicationStatus = "PENDING"
	ApplicationStatusAccepted  ApplicationStatus = "ACCEPTED"
	ApplicationStatusRejected  ApplicationStatus = "REJECTED"
	ApplicationStatusWithdrawn ApplicationStatus = "WITHDRAWN"
)

// Duty is a hospital shift with a fixed number of positions. The duty row is
// the source of truth for "is there room": positions_filled is only ever
// advanced by the arbitration engine's conditional update and never exceeds
// positions_needed.
type Duty struct {
	gorm.Model
	HospitalID uint  `json:"hospitalId" gorm:"column:hospital_id;not null;index"`
	Hospital   *User `json:"hospital,omitempty" gorm:"foreignKey:HospitalID"`

	Title      string    `json:"title" gorm:"column:title;not null"`
	Department string    `json:"department" gorm:"column:department"`
	StartTime  time.Time `json:"startTime" gorm:"column:start_time;not null"`
	EndTime    time.Time `json:"endTime" gorm:"column:end_time;not null"`
	RatePerHr  int64     `json:"ratePerHour" gorm:"column:rate_per_hour;not null"`
	Currency   string    `json:"currency" gorm:"column:currency;not null;default:'INR'"`

	PositionsNeeded int        `json:"positionsNeeded" gorm:"column:positions_needed;not null"`
	PositionsFilled int        `json:"positionsFilled" gorm:"column:positions_filled;not null;default:0"`
	Status          DutyStatus `json:"status" gorm:"column:status;not null;default:'OPEN';index"`
}

// TableName specifies the table name
func (Duty) TableName() string {
	return "duties"
}

// DutyApplication is a derived record: it only flips to ACCEPTED after the
// duty's fill counter has been advanced atomically.
type DutyApplication struct {
	gorm.Model
	DutyID   uint  `json:"dutyId" gorm:"column:duty_id;not null;uniqueIndex:idx_duty_doctor"`
	Duty     *Duty `json:"duty,omitempty" gorm:"foreignKey:DutyID"`
	DoctorID uint  `json:"doctorId" gorm:"column:doctor_id;not null;uniqueIndex:idx_duty_doctor"`
	Doctor   *User `json:"doctor,omitempty" gorm:"foreignKey:DoctorID"`

	Status    ApplicationStatus `json:"status" gorm:"column:status;not null;default:'PENDING';index"`
	Note      string            `json:"note,omitempty" gorm:"column:note"`
	DecidedAt *time.Time        `json:"decidedAt,omitempty" gorm:"column:decided_at"`
}

// TableName specifies the table name
func (DutyApplication) TableName() string {
	return "duty_applications"
}

// DutyAssignment is one row per doctor assigned to a duty; the NOT EXISTS
// guard in the accept update reads this table.
type DutyAssignment struct {
	gorm.Model
	DutyID   uint `json:"dutyId" gorm:"column:duty_id;not null;uniqueIndex:idx_duty_assignment"`
	DoctorID uint `json:"doctorId" gorm:"column:doctor_id;not null;uniqueIndex:idx_duty_assignment"`
}

// TableName specifies the table name
func (DutyAssignment) TableName() string {
	return "duty_assignments"
}
