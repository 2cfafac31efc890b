package realtime

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode"

	"stagehand/api/internal/auth"
	"stagehand/api/internal/rbac"
)

// RoleLookup reads channel membership.
type RoleLookup interface {
	LookupRole(ctx context.Context, channelSlug, userID string) (rbac.Role, bool, error)
}

// Slug lower-cases s, collapses runs of anything that is not a letter or
// digit into "-" and trims dashes from both ends.
func Slug(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// Resolver decides the role of a connection on a channel.
type Resolver struct {
	lookup  RoleLookup
	timeout time.Duration
}

// NewResolver wraps lookup. A nil lookup resolves every non-owner to GUEST.
func NewResolver(lookup RoleLookup) *Resolver {
	return &Resolver{lookup: lookup, timeout: 3 * time.Second}
}

// Resolve applies, in order: unauthenticated is GUEST, the channel owner is
// PRODUCER, otherwise the membership row decides. Lookup failures degrade to
// GUEST.
func (r *Resolver) Resolve(ctx context.Context, ident *auth.Identity, channelID string) rbac.Role {
	if ident == nil || ident.UserID == "" {
		return rbac.RoleGuest
	}
	channelSlug := Slug(channelID)
	if ownerSlug := Slug(ident.DisplayName); ownerSlug != "" && ownerSlug == channelSlug {
		return rbac.RoleProducer
	}
	if r.lookup == nil {
		return rbac.RoleGuest
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	role, found, err := r.lookup.LookupRole(ctx, channelSlug, ident.UserID)
	if err != nil {
		log.Printf("realtime: role lookup %s/%s: %v", channelSlug, ident.UserID, err)
		return rbac.RoleGuest
	}
	if !found {
		return rbac.RoleGuest
	}
	return rbac.Normalize(string(role))
}
