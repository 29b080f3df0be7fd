// Package repo: aggregate queries used for conditional responses (ETag
// generation) and the stats read surface.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-verify-bot/internal/domain"
)

// StatusStats holds applicant counts per status and the latest modification
// time across all applicants.
type StatusStats struct {
	Counts       map[domain.Status]int64
	Total        int64
	MaxUpdatedAt *time.Time
}

// ApplicantStats returns per-status counts and the greatest UpdatedAt. When
// there are no applicants, Total is 0 and MaxUpdatedAt is nil.
func ApplicantStats(ctx context.Context, db *gorm.DB) (*StatusStats, error) {
	var rows []struct {
		Status domain.Status
		N      int64
	}
	if err := db.WithContext(ctx).
		Model(&domain.Applicant{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	st := &StatusStats{Counts: make(map[domain.Status]int64, len(rows))}
	for _, r := range rows {
		st.Counts[r.Status] = r.N
		st.Total += r.N
	}
	if st.Total == 0 {
		return st, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err := db.WithContext(ctx).
		Model(&domain.Applicant{}).
		Select("updated_at").
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return nil, err
	}
	st.MaxUpdatedAt = &row.UpdatedAt
	return st, nil
}
