// Package chatroom defines the chat-role model the bot uses to classify
// conversations and the bindings that tie submission and review chats to
// catalog entries.
package chatroom

// Role classifies a chat. A chat holds exactly one role at any time.
type Role string

const (
	// RoleShop is a single-user chat running the catalog browser front-end.
	RoleShop Role = "shop"
	// RoleSubmit is a chat with an open submission session bound to a draft.
	RoleSubmit Role = "submit"
	// RoleReview is a group chat where testers and a publisher review a draft.
	RoleReview Role = "review"
	// RoleRelease marks a review chat whose entry has been published.
	RoleRelease Role = "release"
	// RoleGenesis is the operator chat where contacts join pools.
	RoleGenesis Role = "genesis"
	// RoleTesterPool and RoleReviewerPool are the membership group chats.
	RoleTesterPool   Role = "tester-pool"
	RoleReviewerPool Role = "reviewer-pool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleShop, RoleSubmit, RoleReview, RoleRelease, RoleGenesis, RoleTesterPool, RoleReviewerPool:
		return true
	}
	return false
}

// Pool names a contact pool a genesis member can join.
type Pool string

const (
	PoolTesters    Pool = "tester"
	PoolPublishers Pool = "publisher"
)

// SubmitChat binds a submit-role chat to exactly one draft entry and to the
// helper message that addresses protocol responses back to the submitter's
// front-end.
type SubmitChat struct {
	ChatID      int64
	HelperMsgID int64
	// EntryID is the store-internal id of the bound draft AppEntry.
	EntryID string
	// Creator is the submitting contact, kept for attribution.
	Creator string
}

// ReviewChat binds a review-role chat to the entry under review, the
// originating submit chat (for failure routing), one publisher and the tester
// set. Membership is immutable for the lifetime of the review.
type ReviewChat struct {
	ChatID      int64
	HelperMsgID int64

	SubmitChatID      int64
	SubmitHelperMsgID int64

	Publisher string
	Testers   []string

	EntryID string
}
