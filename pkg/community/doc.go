// Package community owns typed communities: their per-type uniqueness rules,
// find-or-create lookups, lifecycle and analytics.
//
// Each community type with automatic membership has a Rule describing how a
// member's profile attribute selects a community:
//
//	CELL        location (and country, when given)
//	TRIBE       birth month, JANUARY..DECEMBER
//	PROFESSION  profession
//	MINISTRY    gender
//
// Other types are identified by name only. Within (tenant, branch, type) a
// name is always unique, independently of the type-specific attribute.
package community
