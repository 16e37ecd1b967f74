// Package communitysync keeps a member's cell, tribe, profession and
// ministry memberships consistent with their profile.
//
// For every attribute present in a sync request the orchestrator resolves
// (or creates) the matching community in the member's branch, adds the
// member, and then removes them from any other community of that type.
// Migration is always add-then-remove, so a failed removal leaves the member
// in both communities rather than in neither.
//
// The result is a list of steps such as
//
//	{"step": "add_profession_membership", "success": true}
//	{"step": "membership_check", "success": false, "message": "Member already belongs to this profession community"}
//
// and is diagnostic only: no step is atomic with another.
package communitysync
