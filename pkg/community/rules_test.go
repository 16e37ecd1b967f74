package community

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatLabel(t *testing.T) {
	tests := map[string]string{
		"SOFTWARE_ENGINEER": "Software Engineer",
		"lagos":             "Lagos",
		"JANUARY":           "January",
		"new_york__city":    "New York  City",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatLabel(in), in)
	}
}

func TestMonthOf(t *testing.T) {
	assert.Equal(t, "JANUARY", MonthOf(time.Date(1990, time.January, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "DECEMBER", MonthOf(time.Date(2001, time.December, 31, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "", MonthOf(time.Time{}))
	assert.True(t, ValidMonth("MAY"))
	assert.False(t, ValidMonth("May"))
}

func TestRuleNames(t *testing.T) {
	tests := []struct {
		typ   Type
		value string
		name  string
	}{
		{TypeCell, "lagos", "Lagos cell community"},
		{TypeTribe, "JANUARY", "January tribe community"},
		{TypeProfession, "SOFTWARE_ENGINEER", "Software Engineer profession community"},
		{TypeMinistry, "MALE", "Men's Ministry Community"},
		{TypeMinistry, "FEMALE", "Women's Ministry Community"},
		{TypeMinistry, "OTHER", "Other Ministry Community"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := RuleFor(tt.typ)
			assert.True(t, ok)
			assert.Equal(t, tt.name, rule.Name(tt.value))
		})
	}

	_, ok := RuleFor(TypeInterest)
	assert.False(t, ok)
}

func TestRuleValues(t *testing.T) {
	attrs := Attributes{Location: " Accra ", Month: "march", Profession: "NURSE", Gender: "female"}

	cell, _ := RuleFor(TypeCell)
	tribe, _ := RuleFor(TypeTribe)
	profession, _ := RuleFor(TypeProfession)
	ministry, _ := RuleFor(TypeMinistry)

	assert.Equal(t, "Accra", cell.Value(attrs))
	assert.Equal(t, "MARCH", tribe.Value(attrs))
	assert.Equal(t, "NURSE", profession.Value(attrs))
	assert.Equal(t, "FEMALE", ministry.Value(attrs))
	assert.Equal(t, "", cell.Value(Attributes{}))

	assert.Equal(t, Attributes{Location: "Accra"}, cell.Attributes("Accra"))
	assert.Equal(t, "location", cell.MemberColumn)
	assert.Equal(t, "", tribe.MemberColumn)

	loc := "Accra"
	assert.Equal(t, "Accra", cell.Canonical(&Community{Location: &loc}))
	assert.Equal(t, "", cell.Canonical(nil))
}

func TestLookupColumns(t *testing.T) {
	cols := lookupColumns(TypeCell, Attributes{Location: "Lagos"})
	assert.Len(t, cols, 1)
	assert.Equal(t, "location", cols[0].name)

	cols = lookupColumns(TypeCell, Attributes{Location: "Lagos", Country: "NG"})
	assert.Len(t, cols, 2)

	assert.Nil(t, uniqueColumns(TypeInterest, Attributes{Location: "x"}))
	assert.Equal(t, Attributes{Gender: "MALE"}, normalize(TypeMinistry, Attributes{Gender: "male", Location: "x"}))
}
