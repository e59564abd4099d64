// Package proposalengine implements proposal resolution inside the
// decision-core context.
//
// The module owns the generic compare-and-swap approval transition shared by
// every approvable kind (assumption, criterion and conclusion proposals,
// memberships), the vote-triggered auto-approval policies, vote add/remove
// orchestration, and materialization of accepted proposals into content rows.
// Kind-specific behavior is injected through small strategy values; the engine
// itself never branches on kind.
package proposalengine
