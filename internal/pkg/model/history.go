package model

import "time"

// Record is one stored reading. A nil Value means the device was unavailable.
type Record struct {
	ID         int64       `json:"id"`
	DeviceID   string      `json:"device_id"`
	Name       string      `json:"name"`
	Kind       ServiceKind `json:"kind"`
	Value      *float64    `json:"value"`
	ObservedAt *time.Time  `json:"observed_at,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

type Records []Record
