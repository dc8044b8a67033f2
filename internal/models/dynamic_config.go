package models

import "time"

// DynamicConfig is one hot-reloadable configuration row. The rules service
// folds these into the active GlobalRules snapshot.
type DynamicConfig struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
