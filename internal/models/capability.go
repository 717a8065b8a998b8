package models

// Capability is a named permission granted through a role.
type Capability string

const (
	CapCollectionsRead   Capability = "collections.read"
	CapCollectionsWrite  Capability = "collections.write"
	CapEvaluationsSubmit Capability = "evaluations.submit"
	CapEvaluationsReview Capability = "evaluations.review"
	CapEvaluationsReport Capability = "evaluations.report"
	CapGamificationAward Capability = "gamification.award"
)

var roleCapabilities = map[UserRole][]Capability{
	RoleStudent: {
		CapCollectionsRead,
		CapEvaluationsSubmit,
	},
	RoleTeacher: {
		CapCollectionsRead,
		CapCollectionsWrite,
		CapEvaluationsSubmit,
		CapEvaluationsReview,
	},
	RoleInstitutionAdmin: {
		CapCollectionsRead,
		CapCollectionsWrite,
		CapEvaluationsSubmit,
		CapEvaluationsReview,
		CapGamificationAward,
	},
	RolePlatformAdmin: {
		CapCollectionsRead,
		CapCollectionsWrite,
		CapEvaluationsSubmit,
		CapEvaluationsReview,
		CapEvaluationsReport,
		CapGamificationAward,
	},
	RoleGrader: {
		CapEvaluationsReport,
	},
}

// HasCapability consults the static role table. A nil user has none.
func HasCapability(user *JWTClaims, capability Capability) bool {
	if user == nil {
		return false
	}
	for _, granted := range roleCapabilities[user.Role] {
		if granted == capability {
			return true
		}
	}
	return false
}

// CapabilitiesOf lists what role grants.
func CapabilitiesOf(role UserRole) []Capability {
	return append([]Capability(nil), roleCapabilities[role]...)
}
