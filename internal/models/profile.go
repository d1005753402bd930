package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Profile personalizes the opening prompt of a new interview.
type Profile struct {
	UserID     string `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	FullName   string `gorm:"column:full_name;type:text" json:"full_name"`
	TargetRole string `gorm:"column:target_role;type:text" json:"target_role"`
	Summary    string `gorm:"column:summary;type:text" json:"summary"`

	Skills pq.StringArray `gorm:"column:skills;type:text[]" json:"skills"`

	// JSONB (raw, structure is owned by the profile editor)
	Experience datatypes.JSON `gorm:"column:experience;type:jsonb" json:"experience"`

	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }
