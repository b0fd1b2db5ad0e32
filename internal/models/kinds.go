// Package models defines the synced entity rows shared by the agent and the
// sync gateway. Every row is scoped to an owning user and addressed by
// (kind, id); the synchronization layer owns all mutations, feature
// coordinators hold read-only projections.
package models

// Kind names one synced entity collection. The value doubles as the remote
// table discriminator and as the feed topic prefix.
type Kind string

const (
	KindTimerState           Kind = "timer_state"
	KindBlockedWebsite       Kind = "blocked_website"
	KindFocusMode            Kind = "focus_mode"
	KindSchedule             Kind = "schedule"
	KindUserSettings         Kind = "user_settings"
	KindUserStats            Kind = "user_stats"
	KindPartnership          Kind = "partnership"
	KindAccountabilityConfig Kind = "accountability_config"
	KindUnlockRequest        Kind = "unlock_request"
	KindUnlockApproval       Kind = "unlock_approval"
	KindFamilyGroup          Kind = "family_group"
	KindFamilyMember         Kind = "family_member"
	KindFamilyLock           Kind = "family_lock"
	KindRegretWindow         Kind = "regret_window"
)

// AllKinds lists every collection the gateway persists and the agent may
// subscribe to.
var AllKinds = []Kind{
	KindTimerState,
	KindBlockedWebsite,
	KindFocusMode,
	KindSchedule,
	KindUserSettings,
	KindUserStats,
	KindPartnership,
	KindAccountabilityConfig,
	KindUnlockRequest,
	KindUnlockApproval,
	KindFamilyGroup,
	KindFamilyMember,
	KindFamilyLock,
	KindRegretWindow,
}

// OwnerField names the JSON field a kind is owner-scoped by. Most rows carry
// a plain user_id; family locks ride the target's scope and family groups the
// owner's. Reconcile queries and feed-topic routing both key on this field.
func OwnerField(k Kind) string {
	switch k {
	case KindFamilyLock:
		return "target_user_id"
	case KindFamilyGroup:
		return "owner_user_id"
	default:
		return "user_id"
	}
}

// Entity is implemented by every synced row.
type Entity interface {
	// EntityID returns the primary key of the row.
	EntityID() string
	// OwnerID returns the user the row is scoped to.
	OwnerID() string
}
