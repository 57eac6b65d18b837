package auth

import (
	"strings"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// CommunityResolver maps identity-provider group claims to a community and
// flags admins by email. Mappings come from configuration in the form
// `GROUP_ID_1:Community1,GROUP_ID_2:Community2`; admin emails are a
// comma-separated list.
type CommunityResolver struct {
	groupMappings map[string]string
	adminEmails   map[string]struct{}
}

func NewCommunityResolver(groupMappings, adminEmails string) *CommunityResolver {
	r := &CommunityResolver{
		groupMappings: make(map[string]string),
		adminEmails:   make(map[string]struct{}),
	}

	for _, pair := range strings.Split(groupMappings, ",") {
		groupID, community, ok := strings.Cut(pair, ":")
		groupID = strings.TrimSpace(groupID)
		community = strings.TrimSpace(community)
		if ok && groupID != "" && community != "" {
			r.groupMappings[groupID] = community
		}
	}

	for _, email := range strings.Split(adminEmails, ",") {
		normalized := strings.ToLower(strings.TrimSpace(email))
		if normalized != "" {
			r.adminEmails[normalized] = struct{}{}
		}
	}

	return r
}

// ResolveCommunity returns the community for the first group claim with a
// configured mapping, or "" if nothing matches.
func (r *CommunityResolver) ResolveCommunity(groups []string) string {
	for _, groupID := range groups {
		if community, ok := r.groupMappings[groupID]; ok {
			return community
		}
	}
	return ""
}

// IsAdmin reports whether the email is on the configured admin list.
func (r *CommunityResolver) IsAdmin(email string) bool {
	if email == "" {
		return false
	}
	_, ok := r.adminEmails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// UserFromClaims builds the authenticated user from verified claims. The oid
// subject claim is required; everything else degrades gracefully.
func (r *CommunityResolver) UserFromClaims(claims Claims) (models.User, error) {
	if claims.OID == "" {
		return models.User{}, ErrMissingSubject
	}

	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}
	name := claims.Name
	if name == "" {
		name = "Unknown User"
	}

	return models.User{
		ID:        claims.OID,
		Email:     email,
		Name:      name,
		Community: r.ResolveCommunity(claims.Groups),
		IsAdmin:   r.IsAdmin(email),
	}, nil
}

// CanAccess decides room admission: admins reach every community, everyone
// else only their own. An absent community on either side denies.
func CanAccess(user models.User, targetCommunity string) bool {
	if user.IsAdmin {
		return true
	}
	if user.Community == "" || targetCommunity == "" {
		return false
	}
	return user.Community == targetCommunity
}
