package models

import "github.com/google/uuid"

// Guild is a Discord guild registered through link_region.
type Guild struct {
	Base
	Snowflake string `gorm:"size:20;not null;uniqueIndex" json:"snowflake"`
}

// Region is a NationStates region. Name holds the canonical id.
type Region struct {
	Base
	Name        string `gorm:"size:100;not null;uniqueIndex" json:"name"`
	DisplayName string `gorm:"size:100" json:"display_name"`
}

type GuildRegion struct {
	Base
	GuildID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_guild_region" json:"guild_id"`
	RegionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_guild_region" json:"region_id"`
	Guild    Guild     `gorm:"foreignKey:GuildID;constraint:OnDelete:CASCADE" json:"-"`
	Region   Region    `gorm:"foreignKey:RegionID;constraint:OnDelete:CASCADE" json:"-"`
}
