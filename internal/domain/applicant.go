// Package domain defines the persistence models for membership verification:
// applicants, their evidence images, and the status transition history.
// These types are mapped with GORM and shared across the repository and
// service layers.
package domain

import "time"

// Applicant is the durable record of one person moving through verification.
//
// Fields:
//   - ID: external identity assigned by the chat platform; primary key, immutable.
//   - JoinedAt: when the applicant entered the pipeline; the email timeout is
//     measured from here.
//   - FirstName / LastName: display name, mutable.
//   - Email: institutional address; unique across all applicants.
//   - ReviewPromptRef / ApplicantChannelRef: opaque chat-platform handles,
//     fixed at registration.
//   - Status: pipeline position, only ever changed through a Transition.
//   - Evidence: ordered image references, replaced as a whole.
type Applicant struct {
	ID                  string    `json:"id"                    gorm:"type:varchar(64);primaryKey"`
	JoinedAt            time.Time `json:"joined_at"             gorm:"not null"`
	FirstName           string    `json:"first_name"            gorm:"type:varchar(100);not null"`
	LastName            string    `json:"last_name"             gorm:"type:varchar(100);not null"`
	Email               string    `json:"email"                 gorm:"type:varchar(320);not null;uniqueIndex:ux_applicant_email"`
	ReviewPromptRef     string    `json:"review_prompt_ref"     gorm:"type:varchar(128);not null"`
	ApplicantChannelRef string    `json:"applicant_channel_ref" gorm:"type:varchar(128);not null"`
	Status              Status    `json:"status"                gorm:"type:varchar(32);not null;index:idx_applicant_status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	// Evidence rows are cascade-deleted with their applicant.
	Evidence []EvidenceImage `json:"evidence" gorm:"foreignKey:ApplicantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Applicant.
func (Applicant) TableName() string { return "applicants" }

// FullName joins the display names the way nicknames are set.
func (a *Applicant) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// ImageURLs returns the evidence references in stored order.
func (a *Applicant) ImageURLs() []string {
	out := make([]string, 0, len(a.Evidence))
	for _, img := range a.Evidence {
		out = append(out, img.URL)
	}
	return out
}

// EvidenceImage is one image reference attached to an applicant. Position
// preserves submission order; URL is unique across the whole table.
type EvidenceImage struct {
	ID          uint   `json:"-"   gorm:"primaryKey;autoIncrement"`
	ApplicantID string `json:"-"   gorm:"type:varchar(64);not null;index:idx_applicant_images,priority:1"`
	Position    int    `json:"-"   gorm:"not null;index:idx_applicant_images,priority:2"`
	URL         string `json:"url" gorm:"type:text;not null;uniqueIndex:ux_evidence_url"`
}

// TableName returns the database table name for EvidenceImage.
func (EvidenceImage) TableName() string { return "evidence_images" }

// NewEvidence builds the ordered evidence rows for an applicant from a list
// of URLs, dropping blanks and repeats while keeping first-seen order.
func NewEvidence(applicantID string, urls []string) []EvidenceImage {
	seen := make(map[string]struct{}, len(urls))
	out := make([]EvidenceImage, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, EvidenceImage{ApplicantID: applicantID, Position: len(out), URL: u})
	}
	return out
}

// StatusChange is an append-only audit row written alongside every committed
// transition. It has no foreign key to applicants; rows remain after a purge.
// Registration is recorded with From equal to To.
type StatusChange struct {
	ID          uint      `json:"id"           gorm:"primaryKey;autoIncrement"`
	ApplicantID string    `json:"applicant_id" gorm:"type:varchar(64);not null;index:idx_status_changes_applicant,priority:1"`
	From        Status    `json:"from"         gorm:"column:from_status;type:varchar(32);not null"`
	To          Status    `json:"to"           gorm:"column:to_status;type:varchar(32);not null"`
	Cause       string    `json:"cause"        gorm:"type:varchar(64);not null"`
	Actor       string    `json:"actor,omitempty" gorm:"type:varchar(64)"`
	At          time.Time `json:"at"           gorm:"not null;index:idx_status_changes_applicant,priority:2"`
}

// TableName returns the database table name for StatusChange.
func (StatusChange) TableName() string { return "status_changes" }
