package community

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/database/databasetest"
	"github.com/platinummonkey/flock/pkg/paging"
)

func strPtr(s string) *string { return &s }

type recordingAdder struct {
	calls [][]string
	err   error
}

func (a *recordingAdder) AddInitialMembers(ctx context.Context, tenantID, communityID string, memberIDs []string) error {
	a.calls = append(a.calls, memberIDs)
	return a.err
}

func newResolver(t *testing.T, adder MemberAdder) *Resolver {
	t.Helper()
	return NewResolver(databasetest.Open(t), adder, nil, nil)
}

func TestCreateCommunity(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, nil)

	c, err := r.Create(ctx, "t1", CreateInput{
		BranchID:   strPtr("b1"),
		Type:       TypeProfession,
		Name:       "Engineers",
		Profession: strPtr("SOFTWARE_ENGINEER"),
		Location:   strPtr("ignored"),
	}, strPtr("admin"))
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, "SOFTWARE_ENGINEER", *c.Profession)
	assert.Nil(t, c.Location, "attributes of other types are cleared")

	got, err := r.Get(ctx, "t1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, "admin", *got.CreatedBy)
	assert.Equal(t, "b1", *got.BranchID)

	_, err = r.Get(ctx, "other-tenant", c.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestCreateCommunityValidation(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"unknown type", CreateInput{Type: "CLUB", Name: "x"}},
		{"blank name", CreateInput{Type: TypeInterest, Name: "  "}},
		{"cell without location", CreateInput{Type: TypeCell, Name: "x"}},
		{"tribe with bad month", CreateInput{Type: TypeTribe, Name: "x", Month: strPtr("SMARCH")}},
		{"bad status", CreateInput{Type: TypeInterest, Name: "x", Status: "ON_HOLD"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(ctx, "t1", tt.in, nil)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestCreateCommunityUniqueness(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	_, err := r.Create(ctx, "t1", CreateInput{
		BranchID: strPtr("b1"), Type: TypeCell, Name: "Lagos Island",
		Country: strPtr("NG"), Location: strPtr("Lagos"),
	}, nil)
	require.NoError(t, err)

	t.Run("same country and location", func(t *testing.T) {
		_, err := r.Create(ctx, "t1", CreateInput{
			BranchID: strPtr("b1"), Type: TypeCell, Name: "Another name",
			Country: strPtr("NG"), Location: strPtr("Lagos"),
		}, nil)
		require.True(t, apperr.IsConflict(err))
		assert.Contains(t, err.Error(), "A CELL community with the same unique information already exists in this branch")
	})

	t.Run("same name different location", func(t *testing.T) {
		_, err := r.Create(ctx, "t1", CreateInput{
			BranchID: strPtr("b1"), Type: TypeCell, Name: "Lagos Island",
			Country: strPtr("NG"), Location: strPtr("Abuja"),
		}, nil)
		require.True(t, apperr.IsConflict(err))
		assert.Contains(t, err.Error(), `Community with name "Lagos Island" already exists in this branch`)
	})

	t.Run("other branch is independent", func(t *testing.T) {
		_, err := r.Create(ctx, "t1", CreateInput{
			BranchID: strPtr("b2"), Type: TypeCell, Name: "Lagos Island",
			Country: strPtr("NG"), Location: strPtr("Lagos"),
		}, nil)
		assert.NoError(t, err)
	})

	t.Run("other tenant is independent", func(t *testing.T) {
		_, err := r.Create(ctx, "t2", CreateInput{
			BranchID: strPtr("b1"), Type: TypeCell, Name: "Lagos Island",
			Country: strPtr("NG"), Location: strPtr("Lagos"),
		}, nil)
		assert.NoError(t, err)
	})
}

func TestCreateCommunityInitialMembers(t *testing.T) {
	ctx := context.Background()

	adder := &recordingAdder{err: errors.New("member service down")}
	r := newResolver(t, adder)

	c, err := r.Create(ctx, "t1", CreateInput{Type: TypeInterest, Name: "Choir", MemberIDs: []string{"m1", "m2"}}, nil)
	require.NoError(t, err, "initial member failures never fail creation")
	require.NotNil(t, c)
	require.Len(t, adder.calls, 1)
	assert.Equal(t, []string{"m1", "m2"}, adder.calls[0])

	_, err = r.Create(ctx, "t1", CreateInput{Type: TypeInterest, Name: "Ushers"}, nil)
	require.NoError(t, err)
	assert.Len(t, adder.calls, 1)
}

func TestFindByUniqueAttributes(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	b1, err := r.Create(ctx, "t1", CreateInput{BranchID: strPtr("b1"), Type: TypeTribe, Name: "January B1", Month: strPtr("january")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "JANUARY", *b1.Month)

	found, err := r.FindByUniqueAttributes(ctx, "t1", strPtr("b1"), TypeTribe, Attributes{Month: "JANUARY"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, b1.ID, found.ID)

	found, err = r.FindByUniqueAttributes(ctx, "t1", strPtr("b2"), TypeTribe, Attributes{Month: "JANUARY"})
	require.NoError(t, err)
	assert.Nil(t, found, "a community in another branch never matches")

	found, err = r.FindByUniqueAttributes(ctx, "t1", nil, TypeTribe, Attributes{Month: "JANUARY"})
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = r.FindByUniqueAttributes(ctx, "t1", strPtr("b1"), TypeProfession, Attributes{Month: "JANUARY"})
	require.NoError(t, err)
	assert.Nil(t, found)

	cell, err := r.Create(ctx, "t1", CreateInput{BranchID: strPtr("b1"), Type: TypeCell, Name: "Accra", Country: strPtr("GH"), Location: strPtr("Accra")}, nil)
	require.NoError(t, err)
	found, err = r.FindByUniqueAttributes(ctx, "t1", strPtr("b1"), TypeCell, Attributes{Location: "Accra"})
	require.NoError(t, err)
	require.NotNil(t, found, "cell lookups without a country match on location")
	assert.Equal(t, cell.ID, found.ID)
}

func TestUpdateCommunity(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	a, err := r.Create(ctx, "t1", CreateInput{BranchID: strPtr("b1"), Type: TypeMinistry, Name: "Men", Gender: strPtr("MALE")}, nil)
	require.NoError(t, err)
	_, err = r.Create(ctx, "t1", CreateInput{BranchID: strPtr("b1"), Type: TypeMinistry, Name: "Women", Gender: strPtr("FEMALE")}, nil)
	require.NoError(t, err)

	t.Run("keeping own values is not a conflict", func(t *testing.T) {
		updated, err := r.Update(ctx, "t1", a.ID, UpdateInput{Description: strPtr("brothers")})
		require.NoError(t, err)
		assert.Equal(t, "brothers", *updated.Description)
		assert.Equal(t, "MALE", *updated.Gender)
	})

	t.Run("name collision", func(t *testing.T) {
		_, err := r.Update(ctx, "t1", a.ID, UpdateInput{Name: strPtr("Women")})
		assert.True(t, apperr.IsConflict(err))
	})

	t.Run("attribute collision", func(t *testing.T) {
		_, err := r.Update(ctx, "t1", a.ID, UpdateInput{Gender: strPtr("female")})
		assert.True(t, apperr.IsConflict(err))
	})

	t.Run("type change re-derives attributes", func(t *testing.T) {
		typ := TypeProfession
		updated, err := r.Update(ctx, "t1", a.ID, UpdateInput{Type: &typ, Profession: strPtr("TEACHER")})
		require.NoError(t, err)
		assert.Nil(t, updated.Gender)
		assert.Equal(t, "TEACHER", *updated.Profession)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := r.Update(ctx, "t1", "nope", UpdateInput{})
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestGetOfType(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	c, err := r.Create(ctx, "t1", CreateInput{Type: TypeProfession, Name: "Nurses", Profession: strPtr("NURSE")}, nil)
	require.NoError(t, err)

	_, err = r.GetOfType(ctx, "t1", c.ID, TypeProfession)
	assert.NoError(t, err)
	_, err = r.GetOfType(ctx, "t1", c.ID, TypeCell)
	assert.True(t, apperr.IsNotFound(err))
}

func TestListArchiveDelete(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	names := []string{"Alpha Choir", "Beta Ushers", "Gamma Choir"}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		c, err := r.Create(ctx, "t1", CreateInput{BranchID: strPtr("b1"), Type: TypeInterest, Name: name}, nil)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	_, err := r.Create(ctx, "t1", CreateInput{BranchID: strPtr("b1"), Type: TypeTribe, Name: "March", Month: strPtr("MARCH")}, nil)
	require.NoError(t, err)

	res, err := r.List(ctx, "t1", ListFilter{Search: "choir"}, paging.Page{}, paging.Sort{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Pagination.Total)

	res, err = r.List(ctx, "t1", ListFilter{Search: "march"}, paging.Page{}, paging.Sort{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, TypeTribe, res.Items[0].Type)

	res, err = r.List(ctx, "t1", ListFilter{Type: TypeInterest}, paging.Page{Page: 1, Limit: 2}, paging.Sort{Field: "name"})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Alpha Choir", res.Items[0].Name)
	assert.Equal(t, 3, res.Pagination.Total)
	assert.Equal(t, 2, res.Pagination.TotalPages)

	archived, err := r.Archive(ctx, "t1", ids[0])
	require.NoError(t, err)
	assert.NotNil(t, archived.ArchivedAt)

	res, err = r.List(ctx, "t1", ListFilter{Type: TypeInterest}, paging.Page{}, paging.Sort{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)

	res, err = r.List(ctx, "t1", ListFilter{Type: TypeInterest, IncludeArchived: true}, paging.Page{}, paging.Sort{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)

	require.NoError(t, r.Delete(ctx, "t1", ids[1]))
	assert.True(t, apperr.IsNotFound(r.Delete(ctx, "t1", ids[1])))
	_, err = r.Archive(ctx, "t2", ids[2])
	assert.True(t, apperr.IsNotFound(err))
}
