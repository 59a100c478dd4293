package models

import "gorm.io/gorm"

// UserCounter holds the two per-user monotonic counters: attempts count every
// base-order attempt, deals only base orders that actually filled. They are
// advanced independently at well-defined points in the execution state
// machine, never derived by sorting.
type UserCounter struct {
	gorm.Model
	UserID       uint `gorm:"uniqueIndex;not null"`
	AttemptCount int64
	DealCount    int64
}
