// Package store is the persistence layer for nations, users, guilds, regions
// and role bindings. Every method takes a context and runs on the handle the
// Store was built from, so a Store obtained inside Transaction is bound to
// that transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sunsreach/nerris/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by lookups that find no row.
var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that own their own models.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a Store bound to a single transaction. The
// transaction commits when fn returns nil.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Nations & users ---

func (s *Store) GetNation(ctx context.Context, name string) (*models.Nation, error) {
	var nation models.Nation
	if err := s.conn(ctx).Scopes(byName(name)).First(&nation).Error; err != nil {
		return nil, notFound(err)
	}
	return &nation, nil
}

func (s *Store) GetUser(ctx context.Context, snowflake string) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).Scopes(bySnowflake(snowflake)).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// NationOwner returns the snowflake of the user a nation is linked to.
func (s *Store) NationOwner(ctx context.Context, nationName string) (string, error) {
	var user models.User
	err := s.conn(ctx).
		Joins("JOIN identity_links ON identity_links.user_id = users.id").
		Joins("JOIN nations ON nations.id = identity_links.nation_id").
		Where("nations.name = ?", nationName).
		First(&user).Error
	if err != nil {
		return "", notFound(err)
	}
	return user.Snowflake, nil
}

// UserNations returns the nations linked to a Discord user, empty when the
// user is unknown.
func (s *Store) UserNations(ctx context.Context, snowflake string) ([]models.Nation, error) {
	var nations []models.Nation
	err := s.conn(ctx).
		Joins("JOIN identity_links ON identity_links.nation_id = nations.id").
		Joins("JOIN users ON users.id = identity_links.user_id").
		Where("users.snowflake = ?", snowflake).
		Order("nations.name ASC").
		Find(&nations).Error
	return nations, err
}

// UserSnowflakes lists every verified Discord user.
func (s *Store) UserSnowflakes(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.conn(ctx).Model(&models.User{}).Order("snowflake ASC").Pluck("snowflake", &ids).Error
	return ids, err
}

// LinkIdentity records that a Discord user verified a nation, creating the
// user and nation rows as needed. A nation already linked to anyone fails
// with AccountAlreadyLinkedError.
func (s *Store) LinkIdentity(ctx context.Context, snowflake, nationName, displayName, regionName string) (*models.User, error) {
	var user models.User
	err := s.Transaction(ctx, func(tx *Store) error {
		db := tx.conn(ctx)

		var nation models.Nation
		err := db.Scopes(byName(nationName)).First(&nation).Error
		switch {
		case err == nil:
			var links int64
			if err := db.Model(&models.IdentityLink{}).Where("nation_id = ?", nation.ID).Count(&links).Error; err != nil {
				return err
			}
			if links > 0 {
				return &models.AccountAlreadyLinkedError{Nation: nationName}
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			nation = models.Nation{Name: nationName}
		default:
			return err
		}

		nation.DisplayName = displayName
		nation.RegionName = regionName
		nation.VerifiedAt = time.Now().UTC()
		if err := db.Save(&nation).Error; err != nil {
			return fmt.Errorf("failed to save nation: %w", err)
		}

		if err := db.Where(models.User{Snowflake: snowflake}).FirstOrCreate(&user).Error; err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}

		link := models.IdentityLink{NationID: nation.ID, UserID: user.ID}
		if err := db.Create(&link).Error; err != nil {
			return fmt.Errorf("failed to link nation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UnlinkResult reports which rows an unlink removed.
type UnlinkResult struct {
	NationDeleted bool
	UserDeleted   bool
}

// UnlinkIdentity removes the link between a user and a nation. Nations and
// users left without links are deleted in the same transaction. Fails with
// NoNationError when the user does not hold the nation.
func (s *Store) UnlinkIdentity(ctx context.Context, snowflake, nationName string) (*UnlinkResult, error) {
	result := &UnlinkResult{}
	err := s.Transaction(ctx, func(tx *Store) error {
		db := tx.conn(ctx)

		var user models.User
		if err := db.Scopes(bySnowflake(snowflake)).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &models.NoNationError{Name: nationName}
			}
			return err
		}
		var nation models.Nation
		if err := db.Scopes(byName(nationName)).First(&nation).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &models.NoNationError{Name: nationName}
			}
			return err
		}

		res := db.Where("nation_id = ? AND user_id = ?", nation.ID, user.ID).Delete(&models.IdentityLink{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &models.NoNationError{Name: nationName}
		}

		deleted, err := deleteIfOrphan(db, &nation, "nation_id", nation.ID)
		if err != nil {
			return err
		}
		result.NationDeleted = deleted

		deleted, err = deleteIfOrphan(db, &user, "user_id", user.ID)
		if err != nil {
			return err
		}
		result.UserDeleted = deleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func deleteIfOrphan(db *gorm.DB, row interface{}, column string, id uuid.UUID) (bool, error) {
	var remaining int64
	if err := db.Model(&models.IdentityLink{}).Where(column+" = ?", id).Count(&remaining).Error; err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	if err := db.Delete(row).Error; err != nil {
		return false, err
	}
	return true, nil
}

// --- Guilds & regions ---

// RegisterGuild returns the guild row for a snowflake, creating it if needed.
func (s *Store) RegisterGuild(ctx context.Context, snowflake string) (*models.Guild, error) {
	guild := models.Guild{}
	if err := s.conn(ctx).Where(models.Guild{Snowflake: snowflake}).FirstOrCreate(&guild).Error; err != nil {
		return nil, fmt.Errorf("failed to register guild: %w", err)
	}
	return &guild, nil
}

func (s *Store) GetGuild(ctx context.Context, snowflake string) (*models.Guild, error) {
	var guild models.Guild
	if err := s.conn(ctx).Scopes(bySnowflake(snowflake)).First(&guild).Error; err != nil {
		return nil, notFound(err)
	}
	return &guild, nil
}

// RemoveGuild deletes a guild together with its region links and role
// bindings. Unknown guilds are ignored.
func (s *Store) RemoveGuild(ctx context.Context, snowflake string) error {
	return s.Transaction(ctx, func(tx *Store) error {
		db := tx.conn(ctx)
		var guild models.Guild
		if err := db.Scopes(bySnowflake(snowflake)).First(&guild).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := db.Where("guild_id = ?", guild.ID).Delete(&models.GuildRole{}).Error; err != nil {
			return err
		}
		if err := db.Where("guild_id = ?", guild.ID).Delete(&models.GuildRegion{}).Error; err != nil {
			return err
		}
		return db.Delete(&guild).Error
	})
}

// RegisterRegion returns the region row for a canonical name, creating it if
// needed and refreshing the display name.
func (s *Store) RegisterRegion(ctx context.Context, name, displayName string) (*models.Region, error) {
	region := models.Region{}
	err := s.conn(ctx).
		Where(models.Region{Name: name}).
		Assign(models.Region{DisplayName: displayName}).
		FirstOrCreate(&region).Error
	if err != nil {
		return nil, fmt.Errorf("failed to register region: %w", err)
	}
	return &region, nil
}

func (s *Store) GetRegion(ctx context.Context, name string) (*models.Region, error) {
	var region models.Region
	if err := s.conn(ctx).Scopes(byName(name)).First(&region).Error; err != nil {
		return nil, notFound(err)
	}
	return &region, nil
}

func (s *Store) LinkGuildRegion(ctx context.Context, guild *models.Guild, region *models.Region) error {
	link := models.GuildRegion{GuildID: guild.ID, RegionID: region.ID}
	return s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
}

// UnlinkGuildRegion reports whether a link was removed.
func (s *Store) UnlinkGuildRegion(ctx context.Context, guild *models.Guild, region *models.Region) (bool, error) {
	res := s.conn(ctx).Where("guild_id = ? AND region_id = ?", guild.ID, region.ID).Delete(&models.GuildRegion{})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) GuildRegions(ctx context.Context, guild *models.Guild) ([]models.Region, error) {
	var regions []models.Region
	err := s.conn(ctx).
		Joins("JOIN guild_regions ON guild_regions.region_id = regions.id").
		Where("guild_regions.guild_id = ?", guild.ID).
		Order("regions.name ASC").
		Find(&regions).Error
	return regions, err
}

// --- Role meanings & bindings ---

// RegisterRoleMeaning returns the meaning row, creating it if needed.
func (s *Store) RegisterRoleMeaning(ctx context.Context, meaning string) (*models.RoleMeaning, error) {
	row := models.RoleMeaning{}
	if err := s.conn(ctx).Where(models.RoleMeaning{Meaning: meaning}).FirstOrCreate(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to register role meaning: %w", err)
	}
	return &row, nil
}

// CreateRoleMeaning inserts a meaning row. created is false when the meaning
// was already stored, in which case the stored row is returned.
func (s *Store) CreateRoleMeaning(ctx context.Context, meaning string) (row *models.RoleMeaning, created bool, err error) {
	row = &models.RoleMeaning{Meaning: meaning}
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "meaning"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create role meaning: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return row, true, nil
	}

	existing := models.RoleMeaning{}
	if err := s.conn(ctx).Where("meaning = ?", meaning).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("failed to load role meaning: %w", err)
	}
	return &existing, false, nil
}

func (s *Store) RoleMeanings(ctx context.Context) ([]models.RoleMeaning, error) {
	var rows []models.RoleMeaning
	err := s.conn(ctx).Order("meaning ASC").Find(&rows).Error
	return rows, err
}

// GuildRoles returns the role bindings of a guild with their meanings loaded.
func (s *Store) GuildRoles(ctx context.Context, guild *models.Guild) ([]models.GuildRole, error) {
	var roles []models.GuildRole
	err := s.conn(ctx).Preload("RoleMeaning").Where("guild_id = ?", guild.ID).Find(&roles).Error
	return roles, err
}

// BindRole binds a role to a meaning in a guild. An existing binding for the
// same meaning fails with RoleOverwriteError unless override is set, in which
// case it is replaced.
func (s *Store) BindRole(ctx context.Context, guild *models.Guild, meaning *models.RoleMeaning, roleSnowflake string, override bool) (*models.GuildRole, error) {
	db := s.conn(ctx)

	var existing models.GuildRole
	err := db.Where("guild_id = ? AND role_meaning_id = ?", guild.ID, meaning.ID).First(&existing).Error
	switch {
	case err == nil:
		if existing.Snowflake == roleSnowflake {
			return &existing, nil
		}
		if !override {
			return nil, &models.RoleOverwriteError{Meaning: meaning.Meaning, ExistingRoleID: existing.Snowflake}
		}
		existing.Snowflake = roleSnowflake
		if err := db.Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to replace role binding: %w", err)
		}
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		binding := models.GuildRole{GuildID: guild.ID, RoleMeaningID: meaning.ID, Snowflake: roleSnowflake}
		if err := db.Create(&binding).Error; err != nil {
			return nil, fmt.Errorf("failed to bind role: %w", err)
		}
		return &binding, nil
	default:
		return nil, err
	}
}

// RemoveRole deletes every binding that uses a role and returns them.
func (s *Store) RemoveRole(ctx context.Context, roleSnowflake string) ([]models.GuildRole, error) {
	var removed []models.GuildRole
	err := s.Transaction(ctx, func(tx *Store) error {
		db := tx.conn(ctx)
		if err := db.Preload("RoleMeaning").Where("snowflake = ?", roleSnowflake).Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		return db.Where("snowflake = ?", roleSnowflake).Delete(&models.GuildRole{}).Error
	})
	return removed, err
}
