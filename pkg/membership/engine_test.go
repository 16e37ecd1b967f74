package membership

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/community"
	"github.com/platinummonkey/flock/pkg/database/databasetest"
	"github.com/platinummonkey/flock/pkg/members"
	"github.com/platinummonkey/flock/pkg/notify"
	"github.com/platinummonkey/flock/pkg/paging"
)

func strPtr(s string) *string { return &s }

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.MembershipEvent
}

func (c *captureNotifier) OnMembershipCreated(ctx context.Context, event notify.MembershipEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

type fixture struct {
	db       *sql.DB
	engine   *Engine
	notifier *captureNotifier
	members  *members.Service
	resolver *community.Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := databasetest.Open(t)
	n := &captureNotifier{}
	engine := NewEngine(db, Config{Notifier: n})
	return &fixture{
		db:       db,
		engine:   engine,
		notifier: n,
		members:  members.NewService(db, nil, nil),
		resolver: community.NewResolver(db, engine, nil, nil),
	}
}

func (f *fixture) member(t *testing.T, tenant, branch, first string) *members.Member {
	t.Helper()
	in := members.CreateInput{FirstName: first, LastName: "Test", Email: first + "@example.com"}
	if branch != "" {
		in.BranchID = strPtr(branch)
	}
	res, err := f.members.CreateMember(context.Background(), tenant, in)
	require.NoError(t, err)
	return res.Member
}

func (f *fixture) community(t *testing.T, in community.CreateInput) *community.Community {
	t.Helper()
	c, err := f.resolver.Create(context.Background(), "t1", in, nil)
	require.NoError(t, err)
	return c
}

func TestAddMembersPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := f.community(t, community.CreateInput{BranchID: strPtr("b1"), Type: community.TypeInterest, Name: "Choir"})
	valid := f.member(t, "t1", "b1", "valid")
	already := f.member(t, "t1", "b1", "already")
	wrongBranch := f.member(t, "t1", "b2", "wrong")

	_, err := f.engine.AddMembers(ctx, "t1", c.ID, []string{already.ID}, AddOptions{})
	require.NoError(t, err)

	reports, err := f.engine.AddMembers(ctx, "t1", c.ID, []string{valid.ID, already.ID, wrongBranch.ID}, AddOptions{})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.Equal(t, valid.ID, reports[0].MemberID)
	assert.Equal(t, ReportSuccess, reports[0].Status)
	require.NotNil(t, reports[0].Data)
	assert.Equal(t, RoleMember, reports[0].Data.Role)
	assert.Equal(t, StatusActive, reports[0].Data.Status)

	assert.Equal(t, ReportFailed, reports[1].Status)
	assert.Contains(t, reports[1].Reason, "is already part of community")
	assert.Equal(t, ReportFailed, reports[2].Status)
	assert.Equal(t, "Member not found or does not belong to community branch", reports[2].Reason)
	assert.NotEqual(t, reports[1].Reason, reports[2].Reason)

	row, err := f.engine.Get(ctx, "t1", c.ID, valid.ID)
	require.NoError(t, err)
	assert.Equal(t, valid.ID, row.MemberID)
}

func TestAddMembersUnknownMemberAndCommunity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.community(t, community.CreateInput{Type: community.TypeInterest, Name: "Open"})

	reports, err := f.engine.AddMembers(ctx, "t1", c.ID, []string{"ghost"}, AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, ReportFailed, reports[0].Status)

	other := f.member(t, "t2", "", "other")
	reports, err = f.engine.AddMembers(ctx, "t1", c.ID, []string{other.ID}, AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, ReportFailed, reports[0].Status, "members of another tenant are not found")

	_, err = f.engine.AddMembers(ctx, "t2", c.ID, []string{other.ID}, AddOptions{})
	require.True(t, apperr.IsNotFound(err))
	assert.Equal(t, `Community with ID "`+c.ID+`" not found or you do not have permission`, err.Error())

	_, err = f.engine.AddMembers(ctx, "t1", c.ID, []string{other.ID}, AddOptions{Role: "OWNER"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAddMembersNotifiesLeaders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	designated := f.member(t, "t1", "", "designated")
	c := f.community(t, community.CreateInput{Type: community.TypeInterest, Name: "Ushers", LeaderID: &designated.ID})
	leader := f.member(t, "t1", "", "leader")
	joiner := f.member(t, "t1", "", "joiner")

	_, err := f.engine.AddMembers(ctx, "t1", c.ID, []string{leader.ID, designated.ID}, AddOptions{Role: RoleLeader})
	require.NoError(t, err)
	f.notifier.events = nil

	_, err = f.engine.AddMembers(ctx, "t1", c.ID, []string{joiner.ID}, AddOptions{NotifyLeaders: true})
	require.NoError(t, err)
	require.Len(t, f.notifier.events, 1)

	event := f.notifier.events[0]
	assert.Equal(t, notify.EventMembershipCreated, event.Type)
	assert.True(t, event.LeadersNotified)
	assert.Equal(t, joiner.ID, event.Recipients[0])
	assert.ElementsMatch(t, []string{joiner.ID, leader.ID, designated.ID}, event.Recipients, "designated leader is not repeated")
	assert.Equal(t, "Ushers", event.CommunityName)

	f.notifier.events = nil
	other := f.member(t, "t1", "", "other")
	_, err = f.engine.AddMembers(ctx, "t1", c.ID, []string{other.ID}, AddOptions{})
	require.NoError(t, err)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, []string{other.ID}, f.notifier.events[0].Recipients)
}

func TestCommunityCreationBootstrapsMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.member(t, "t1", "b1", "a")
	b := f.member(t, "t1", "b2", "b")

	c := f.community(t, community.CreateInput{
		BranchID: strPtr("b1"), Type: community.TypeInterest, Name: "Bootstrapped",
		MemberIDs: []string{a.ID, b.ID},
	})

	res, err := f.engine.List(ctx, "t1", c.ID, ListFilter{}, paging.Page{}, paging.Sort{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1, "the member from another branch is skipped")
	assert.Equal(t, a.ID, res.Items[0].MemberID)
	assert.False(t, f.notifier.events[0].LeadersNotified)
}

func TestUpdateAndRemoveMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := f.community(t, community.CreateInput{Type: community.TypeInterest, Name: "Choir"})
	m := f.member(t, "t1", "", "m")
	_, err := f.engine.AddMembers(ctx, "t1", c.ID, []string{m.ID}, AddOptions{})
	require.NoError(t, err)

	leader := RoleLeader
	left := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	row, err := f.engine.UpdateMember(ctx, "t1", c.ID, m.ID, UpdateInput{Role: &leader, LeftAt: &left, Notes: strPtr("moved")})
	require.NoError(t, err)
	assert.Equal(t, RoleLeader, row.Role)
	require.NotNil(t, row.LeftAt)
	assert.True(t, left.Equal(*row.LeftAt))

	stored, err := f.engine.Get(ctx, "t1", c.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "moved", *stored.Notes)
	assert.NotNil(t, stored.LeftAt, "leaving keeps the row")

	bad := Role("OWNER")
	_, err = f.engine.UpdateMember(ctx, "t1", c.ID, m.ID, UpdateInput{Role: &bad})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.engine.UpdateMember(ctx, "t1", c.ID, "ghost", UpdateInput{})
	assert.True(t, apperr.IsNotFound(err))

	assert.True(t, apperr.IsNotFound(f.engine.RemoveMember(ctx, "t2", c.ID, m.ID)))
	require.NoError(t, f.engine.RemoveMember(ctx, "t1", c.ID, m.ID))
	err = f.engine.RemoveMember(ctx, "t1", c.ID, m.ID)
	require.True(t, apperr.IsNotFound(err))
	assert.Contains(t, err.Error(), "Community member with ID")
}

func TestListSearchAndActiveCommunityIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cellA := f.community(t, community.CreateInput{BranchID: strPtr("b1"), Type: community.TypeCell, Name: "Lagos", Location: strPtr("Lagos")})
	cellB := f.community(t, community.CreateInput{BranchID: strPtr("b1"), Type: community.TypeCell, Name: "Accra", Location: strPtr("Accra")})
	tribe := f.community(t, community.CreateInput{BranchID: strPtr("b1"), Type: community.TypeTribe, Name: "May", Month: strPtr("MAY")})

	ada := f.member(t, "t1", "b1", "ada")
	ben := f.member(t, "t1", "b1", "ben")
	for _, c := range []*community.Community{cellA, cellB, tribe} {
		_, err := f.engine.AddMembers(ctx, "t1", c.ID, []string{ada.ID}, AddOptions{})
		require.NoError(t, err)
	}
	_, err := f.engine.AddMembers(ctx, "t1", cellA.ID, []string{ben.ID}, AddOptions{Status: StatusInactive})
	require.NoError(t, err)

	ids, err := f.engine.ActiveCommunityIDs(ctx, "t1", ada.ID, community.TypeCell, strPtr("b1"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{cellA.ID, cellB.ID}, ids)

	ids, err = f.engine.ActiveCommunityIDs(ctx, "t1", ben.ID, community.TypeCell, strPtr("b1"))
	require.NoError(t, err)
	assert.Empty(t, ids, "inactive memberships are ignored")

	rows, err := f.engine.TypeMemberships(ctx, "t1", ben.ID, community.TypeCell, strPtr("b1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, TypeMembership{CommunityID: cellA.ID, Status: StatusInactive}, rows[0])

	row, err := f.engine.Reactivate(ctx, "t1", cellA.ID, ben.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, row.Status)
	ids, err = f.engine.ActiveCommunityIDs(ctx, "t1", ben.ID, community.TypeCell, strPtr("b1"))
	require.NoError(t, err)
	assert.Equal(t, []string{cellA.ID}, ids)

	ids, err = f.engine.ActiveCommunityIDs(ctx, "t1", ada.ID, community.TypeCell, strPtr("b2"))
	require.NoError(t, err)
	assert.Empty(t, ids)

	res, err := f.engine.List(ctx, "t1", cellA.ID, ListFilter{Search: "BEN"}, paging.Page{}, paging.Sort{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "ben", res.Items[0].FirstName)
	assert.Equal(t, "Lagos", res.Items[0].CommunityName)

	res, err = f.engine.List(ctx, "t1", "", ListFilter{Search: "accra"}, paging.Page{}, paging.Sort{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, ada.ID, res.Items[0].MemberID)

	res, err = f.engine.List(ctx, "t1", cellA.ID, ListFilter{Status: StatusActive}, paging.Page{}, paging.Sort{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pagination.Total)

	_, err = f.engine.List(ctx, "t2", cellA.ID, ListFilter{}, paging.Page{}, paging.Sort{})
	assert.True(t, apperr.IsNotFound(err))
}
