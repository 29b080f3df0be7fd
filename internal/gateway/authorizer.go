package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tbourn/go-verify-bot/internal/services"
)

// Allowlist grants reviewer capability to fixed member ids.
type Allowlist map[string]struct{}

// NewAllowlist builds an Allowlist, ignoring blanks.
func NewAllowlist(ids []string) Allowlist {
	a := make(Allowlist, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a[id] = struct{}{}
		}
	}
	return a
}

// HasReviewerCapability reports whether actorID is listed.
func (a Allowlist) HasReviewerCapability(_ context.Context, actorID string) (bool, error) {
	_, ok := a[actorID]
	return ok, nil
}

type roleLister interface {
	MemberRoles(ctx context.Context, memberID string) ([]string, error)
}

// RoleAuthorizer grants reviewer capability to holders of Role.
type RoleAuthorizer struct {
	Members roleLister
	Role    string
}

// HasReviewerCapability asks the gateway for the actor's roles. An unknown
// member is not a reviewer.
func (r RoleAuthorizer) HasReviewerCapability(ctx context.Context, actorID string) (bool, error) {
	if r.Role == "" || actorID == "" {
		return false, nil
	}
	roles, err := r.Members.MemberRoles(ctx, actorID)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	for _, role := range roles {
		if strings.EqualFold(role, r.Role) {
			return true, nil
		}
	}
	return false, nil
}

// AnyOf grants capability when any authorizer does. Errors only surface
// when no authorizer said yes.
type AnyOf []services.Authorizer

func (a AnyOf) HasReviewerCapability(ctx context.Context, actorID string) (bool, error) {
	var errs []error
	for _, au := range a {
		ok, err := au.HasReviewerCapability(ctx, actorID)
		if ok {
			return true, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return false, errors.Join(errs...)
}

// NewAuthorizer combines the configured allowlist and reviewer role. With
// neither configured nobody is a reviewer.
func NewAuthorizer(c *Client, reviewerRole string, reviewerIDs []string) services.Authorizer {
	var out AnyOf
	if len(reviewerIDs) > 0 {
		out = append(out, NewAllowlist(reviewerIDs))
	}
	if reviewerRole != "" {
		out = append(out, RoleAuthorizer{Members: c, Role: reviewerRole})
	}
	return out
}
