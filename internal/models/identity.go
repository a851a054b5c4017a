package models

import (
	"time"

	"github.com/google/uuid"
)

// Nation is a verified NationStates account. Name holds the canonical
// NationStates id (lower case, underscores).
type Nation struct {
	Base
	Name        string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	DisplayName string    `gorm:"size:100" json:"display_name"`
	RegionName  string    `gorm:"size:100;index" json:"region_name"`
	VerifiedAt  time.Time `json:"verified_at"`
}

// User is a Discord user holding at least one verified nation.
type User struct {
	Base
	Snowflake string `gorm:"size:20;not null;uniqueIndex" json:"snowflake"`
}

// IdentityLink joins a nation to the user that verified it. A nation belongs
// to at most one user.
type IdentityLink struct {
	Base
	NationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"nation_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Nation   Nation    `gorm:"foreignKey:NationID;constraint:OnDelete:CASCADE" json:"-"`
	User     User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}
