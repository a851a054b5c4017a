package nsverify

import (
	"context"
	"encoding/json"

	"github.com/sunsreach/nerris/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Attempt outcomes.
const (
	OutcomeStarted     = "started"
	OutcomeConfirmed   = "confirmed"
	OutcomeInvalidCode = "invalid_code"
	OutcomeExpired     = "expired"
	OutcomeError       = "error"
)

// VerificationAttempt is the audit trail of handshakes. Codes are never
// stored.
type VerificationAttempt struct {
	models.Base
	UserID  string         `gorm:"size:20;not null;index" json:"user_id"`
	Nation  string         `gorm:"size:100;index" json:"nation"`
	Outcome string         `gorm:"size:20;not null;index" json:"outcome"`
	Details datatypes.JSON `json:"details"`
}

// AttemptLog persists handshake outcomes.
type AttemptLog interface {
	Record(ctx context.Context, userID, nation, outcome string, details map[string]interface{}) error
}

type attemptRepo struct {
	db *gorm.DB
}

func newAttemptRepo(db *gorm.DB) *attemptRepo {
	return &attemptRepo{db: db}
}

func (r *attemptRepo) Record(ctx context.Context, userID, nation, outcome string, details map[string]interface{}) error {
	attempt := VerificationAttempt{UserID: userID, Nation: nation, Outcome: outcome}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		attempt.Details = datatypes.JSON(raw)
	}
	return r.db.WithContext(ctx).Create(&attempt).Error
}

// Recent returns the latest attempts, newest first.
func (r *attemptRepo) Recent(ctx context.Context, limit int) ([]VerificationAttempt, error) {
	var attempts []VerificationAttempt
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&attempts).Error
	return attempts, err
}

// OutcomeCounts groups attempts by outcome.
func (r *attemptRepo) OutcomeCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		Count   int64
	}
	err := r.db.WithContext(ctx).Model(&VerificationAttempt{}).
		Select("outcome, COUNT(*) AS count").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Outcome] = row.Count
	}
	return counts, nil
}
