package models

import "github.com/google/uuid"

// Built-in role meanings registered at startup.
const (
	MeaningVerified = "verified"
	MeaningResident = "resident"
)

// RoleMeaning is a semantic label a guild can bind one of its roles to.
type RoleMeaning struct {
	Base
	Meaning string `gorm:"size:50;not null;uniqueIndex" json:"meaning"`
}

// GuildRole binds a concrete Discord role to a meaning inside one guild.
type GuildRole struct {
	Base
	GuildID       uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_guild_role_meaning" json:"guild_id"`
	RoleMeaningID uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_guild_role_meaning" json:"role_meaning_id"`
	Snowflake     string      `gorm:"size:20;not null;index" json:"snowflake"`
	Guild         Guild       `gorm:"foreignKey:GuildID;constraint:OnDelete:CASCADE" json:"-"`
	RoleMeaning   RoleMeaning `gorm:"foreignKey:RoleMeaningID;constraint:OnDelete:CASCADE" json:"role_meaning"`
}
