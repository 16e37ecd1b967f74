// Package membership implements the membership engine: adding members to
// communities with per-member reporting, role and status changes, removal,
// and membership listings.
//
// AddMembers processes its input sequentially. A member that is already in
// the community, does not exist, or belongs to another branch produces a
// failed report entry while the remaining members are still processed:
//
//	reports, err := engine.AddMembers(ctx, tenantID, communityID, ids, membership.AddOptions{NotifyLeaders: true})
//
// The lookup before insert yields a friendly reason. The primary key on
// (community_id, member_id) catches concurrent adds that slip past it.
package membership
