package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status is an applicant's position in the verification pipeline.
//
// The numeric order is significant: the pending states are ordered by how far
// the applicant has progressed, so "has the applicant passed the image stage"
// is a plain comparison. The zero value is not a valid status.
type Status uint8

const (
	StatusPendingBoth Status = iota + 1
	StatusPendingDM
	StatusPendingEmail
	StatusAwaitingVerification
	StatusVerified
	StatusDenied
	StatusAttempted
	StatusTerminated
)

var statusNames = [...]string{
	StatusPendingBoth:          "PENDING_BOTH",
	StatusPendingDM:            "PENDING_DM",
	StatusPendingEmail:         "PENDING_EMAIL",
	StatusAwaitingVerification: "AWAITING_VERIFICATION",
	StatusVerified:             "VERIFIED",
	StatusDenied:               "DENIED",
	StatusAttempted:            "ATTEMPTED",
	StatusTerminated:           "TERMINATED",
}

// AllStatuses lists every valid status in order.
func AllStatuses() []Status {
	return []Status{
		StatusPendingBoth, StatusPendingDM, StatusPendingEmail, StatusAwaitingVerification,
		StatusVerified, StatusDenied, StatusAttempted, StatusTerminated,
	}
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	return s >= StatusPendingBoth && s <= StatusTerminated
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
	return statusNames[s]
}

// ParseStatus maps a stored or user-supplied name back to a Status.
func ParseStatus(name string) (Status, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, s := range AllStatuses() {
		if statusNames[s] == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value stores the status by name so the column stays readable and
// independent of the numeric order.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	case nil:
		return fmt.Errorf("status is NULL")
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
}

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusDenied || s == StatusTerminated
}

// IsInProgress reports whether the applicant still belongs to the live
// pipeline. Terminated applicants are purged, so only the decided statuses
// need excluding.
func (s Status) IsInProgress() bool {
	return s.Valid() && s != StatusVerified && s != StatusDenied
}

// IsAwaitingEmail is true while the email challenge is still outstanding.
func IsAwaitingEmail(s Status) bool {
	return s == StatusPendingBoth || s == StatusPendingEmail
}

// IsAwaitingImage is true while no evidence image has been accepted.
func IsAwaitingImage(s Status) bool {
	return s >= StatusPendingBoth && s < StatusPendingEmail
}

// Transition computes the next status from the current one.
type Transition func(Status) Status

// OnCanvasImageReceived clears the image gate.
func OnCanvasImageReceived(s Status) Status {
	if s == StatusPendingBoth {
		return StatusPendingEmail
	}
	return StatusAwaitingVerification
}

// OnCanvasImageRequested re-opens the image gate after a reviewer asked for
// a better image.
func OnCanvasImageRequested(s Status) Status {
	if s == StatusPendingEmail {
		return StatusPendingBoth
	}
	return StatusPendingDM
}

// OnEmailConfirmed clears the email gate.
func OnEmailConfirmed(s Status) Status {
	if s == StatusPendingBoth {
		return StatusPendingDM
	}
	return StatusAwaitingVerification
}

// OnEmailChanged re-opens the email gate after the applicant replaced their
// address. ATTEMPTED restarts the whole pipeline.
func OnEmailChanged(s Status) Status {
	switch s {
	case StatusPendingDM, StatusAttempted:
		return StatusPendingBoth
	case StatusAwaitingVerification:
		return StatusPendingEmail
	default:
		return s
	}
}

// OnReviewerVerified, OnReviewerDenied, OnEmailTimeout and
// OnEmailUndeliverable are unconditional.
func OnReviewerVerified(Status) Status { return StatusVerified }

func OnReviewerDenied(Status) Status { return StatusDenied }

func OnEmailTimeout(Status) Status { return StatusTerminated }

func OnEmailUndeliverable(Status) Status { return StatusAttempted }
