package community

import "strings"

// Rule describes how members are matched to communities of one type. Adding
// a type with automatic membership is a matter of adding a Rule.
type Rule struct {
	Type Type
	// Kind is the lower-case tag used in sync step names
	Kind string
	// Label prefixes user-facing messages, e.g. "Profession community"
	Label string
	// MemberColumn is the members column the canonical value is written back to
	MemberColumn string

	value     func(Attributes) string
	name      func(value string) string
	apply     func(attrs *Attributes, value string)
	canonical func(c *Community) string
}

// Value extracts the distinguishing value from a member's attributes, or ""
func (r Rule) Value(attrs Attributes) string {
	return r.value(attrs)
}

// Name is the generated display name for an auto-created community
func (r Rule) Name(value string) string {
	return r.name(value)
}

// Attributes returns the lookup attributes for value
func (r Rule) Attributes(value string) Attributes {
	var attrs Attributes
	r.apply(&attrs, value)
	return attrs
}

// Canonical returns the community's distinguishing value
func (r Rule) Canonical(c *Community) string {
	if c == nil {
		return ""
	}
	return r.canonical(c)
}

var ministryLabels = map[string]string{
	"MALE":   "Men's",
	"FEMALE": "Women's",
}

// MinistryLabel maps a gender onto the ministry display label
func MinistryLabel(gender string) string {
	if label, ok := ministryLabels[strings.ToUpper(gender)]; ok {
		return label
	}
	return FormatLabel(gender)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var cellRule = Rule{
	Type:         TypeCell,
	Kind:         "cell",
	Label:        "Cell",
	MemberColumn: "location",
	value:        func(a Attributes) string { return strings.TrimSpace(a.Location) },
	name:         func(v string) string { return FormatLabel(v) + " cell community" },
	apply:        func(a *Attributes, v string) { a.Location = v },
	canonical:    func(c *Community) string { return deref(c.Location) },
}

var tribeRule = Rule{
	Type:      TypeTribe,
	Kind:      "tribe",
	Label:     "Tribe",
	value:     func(a Attributes) string { return strings.ToUpper(strings.TrimSpace(a.Month)) },
	name:      func(v string) string { return FormatLabel(v) + " tribe community" },
	apply:     func(a *Attributes, v string) { a.Month = v },
	canonical: func(c *Community) string { return deref(c.Month) },
}

var professionRule = Rule{
	Type:         TypeProfession,
	Kind:         "profession",
	Label:        "Profession",
	MemberColumn: "profession",
	value:        func(a Attributes) string { return strings.TrimSpace(a.Profession) },
	name:         func(v string) string { return FormatLabel(v) + " profession community" },
	apply:        func(a *Attributes, v string) { a.Profession = v },
	canonical:    func(c *Community) string { return deref(c.Profession) },
}

var ministryRule = Rule{
	Type:         TypeMinistry,
	Kind:         "ministry",
	Label:        "Ministry",
	MemberColumn: "gender",
	value:        func(a Attributes) string { return strings.ToUpper(strings.TrimSpace(a.Gender)) },
	name:         func(v string) string { return MinistryLabel(v) + " Ministry Community" },
	apply:        func(a *Attributes, v string) { a.Gender = v },
	canonical:    func(c *Community) string { return deref(c.Gender) },
}

// SyncRules are the types with automatic membership, in sync order
var SyncRules = []Rule{cellRule, tribeRule, professionRule, ministryRule}

// RuleFor returns the automatic membership rule for t
func RuleFor(t Type) (Rule, bool) {
	for _, r := range SyncRules {
		if r.Type == t {
			return r, true
		}
	}
	return Rule{}, false
}

// column is one equality predicate of a uniqueness filter. A nil value
// matches NULL.
type column struct {
	name  string
	value *string
}

// uniqueColumns returns the type-specific columns that identify a community
// of type t. Types without a rule are identified by name alone.
func uniqueColumns(t Type, attrs Attributes) []column {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	switch t {
	case TypeCell:
		return []column{{"country", opt(attrs.Country)}, {"location", opt(attrs.Location)}}
	case TypeTribe:
		return []column{{"month", opt(attrs.Month)}}
	case TypeProfession:
		return []column{{"profession", opt(attrs.Profession)}}
	case TypeMinistry:
		return []column{{"gender", opt(attrs.Gender)}}
	}
	return nil
}

// lookupColumns is uniqueColumns for find-or-create lookups: a CELL lookup
// without a country matches on location alone
func lookupColumns(t Type, attrs Attributes) []column {
	cols := uniqueColumns(t, attrs)
	if t == TypeCell && attrs.Country == "" {
		return cols[1:]
	}
	return cols
}

// normalize keeps only the attributes that apply to t
func normalize(t Type, attrs Attributes) Attributes {
	switch t {
	case TypeCell:
		return Attributes{Country: attrs.Country, Location: attrs.Location}
	case TypeTribe:
		return Attributes{Month: strings.ToUpper(attrs.Month)}
	case TypeProfession:
		return Attributes{Profession: attrs.Profession}
	case TypeMinistry:
		return Attributes{Gender: strings.ToUpper(attrs.Gender)}
	}
	return Attributes{}
}
