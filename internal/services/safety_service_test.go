package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anon-chat/internal/apperr"
	"anon-chat/internal/models"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishReport(ctx context.Context, report *models.Report) error {
	return m.Called(ctx, report).Error(0)
}

type recordingConfirmer struct {
	resp ConfirmationResponse
	seen []ConfirmationRequest
}

func (r *recordingConfirmer) Confirm(_ context.Context, req ConfirmationRequest) (ConfirmationResponse, error) {
	r.seen = append(r.seen, req)
	return r.resp, nil
}

func newSafety(env *testEnv, pub ReportPublisher) SafetyService {
	return NewSafetyService(env.users, env.groups, env.reports, pub, env.bus, zap.NewNop())
}

func TestBlockUserNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newUser(t, "a", models.RoleUser)
	b := env.newUser(t, "b", models.RoleUser)
	safety := newSafety(env, nil)

	assert.ErrorIs(t, safety.BlockUser(ctx, a.ID, a.ID, StaticConfirmer{Confirmed: true}), apperr.ErrSelfAction)
	assert.ErrorIs(t, safety.BlockUser(ctx, a.ID, b.ID, StaticConfirmer{}), apperr.ErrCancelled)
	assert.ErrorIs(t, safety.BlockUser(ctx, a.ID, b.ID, nil), apperr.ErrCancelled)

	profile, err := env.user.GetProfile(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, profile.BlockedUserIDs())

	confirm := &recordingConfirmer{resp: ConfirmationResponse{Confirmed: true}}
	require.NoError(t, safety.BlockUser(ctx, a.ID, b.ID, confirm))
	require.NoError(t, safety.BlockUser(ctx, a.ID, b.ID, confirm), "blocking twice is harmless")
	require.Len(t, confirm.seen, 2)
	assert.Equal(t, ConfirmBlockUser, confirm.seen[0].Action)
	assert.False(t, confirm.seen[0].NeedsReason)

	profile, err = env.user.GetProfile(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, profile.BlockedUserIDs())

	assert.ErrorIs(t, safety.BlockUser(ctx, a.ID, "missing", StaticConfirmer{Confirmed: true}), apperr.ErrNotFound)
}

func TestBlockGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", models.RoleAdmin)
	u := env.newUser(t, "u", models.RoleUser)
	info := env.newGroupWith(t, admin, "Team", u)
	safety := newSafety(env, nil)

	topic, cancel, err := env.bus.Subscribe(ctx, models.UserTopic(u.ID))
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, safety.BlockGroup(ctx, u.ID, info.ID, StaticConfirmer{Confirmed: true}))
	select {
	case <-topic:
	default:
		t.Fatal("chat list was not notified")
	}

	list, err := env.chatList.Aggregate(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReportUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", models.RoleAdmin)
	a := env.newUser(t, "a", models.RoleUser)
	b := env.newUser(t, "b", models.RoleUser)
	info := env.newGroupWith(t, admin, "Team", a, b)

	pub := &mockPublisher{}
	pub.On("PublishReport", mock.Anything, mock.MatchedBy(func(r *models.Report) bool {
		return r.ReportedUserID == b.ID && r.ReportedUserName == "User 2"
	})).Return(nil).Once()
	safety := newSafety(env, pub)

	in := ReportUserInput{ReporterID: a.ID, TargetID: b.ID, GroupID: info.ID, MessageContent: " rude "}

	_, err := safety.ReportUser(ctx, in, StaticConfirmer{Confirmed: true, Reason: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = safety.ReportUser(ctx, in, StaticConfirmer{Reason: "spam"})
	assert.ErrorIs(t, err, apperr.ErrCancelled)
	_, err = safety.ReportUser(ctx, ReportUserInput{ReporterID: a.ID, TargetID: a.ID}, StaticConfirmer{Confirmed: true, Reason: "x"})
	assert.ErrorIs(t, err, apperr.ErrSelfAction)

	report, err := safety.ReportUser(ctx, in, StaticConfirmer{Confirmed: true, Reason: " spam "})
	require.NoError(t, err)
	assert.Equal(t, models.ReportUser, report.Kind)
	assert.Equal(t, "spam", report.Reason)
	assert.Equal(t, "rude", report.MessageContent)
	assert.Equal(t, "Team", report.GroupName)
	assert.Equal(t, a.ID, report.ReportedBy)
	pub.AssertExpectations(t)

	stored, err := env.reports.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, report.ID, stored[0].ID)
}

func TestReportGroupSurvivesPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", models.RoleAdmin)
	u := env.newUser(t, "u", models.RoleUser)
	info := env.newGroupWith(t, admin, "Team", u)

	pub := &mockPublisher{}
	pub.On("PublishReport", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	safety := newSafety(env, pub)

	confirm := &recordingConfirmer{resp: ConfirmationResponse{Confirmed: true, Reason: "scam group"}}
	report, err := safety.ReportGroup(ctx, u.ID, info.ID, confirm)
	require.NoError(t, err)
	assert.Equal(t, models.ReportGroup, report.Kind)
	assert.Equal(t, info.ID, report.GroupID)
	require.Len(t, confirm.seen, 1)
	assert.True(t, confirm.seen[0].NeedsReason)

	stored, err := env.reports.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	pub.AssertNumberOfCalls(t, "PublishReport", 1)
}
