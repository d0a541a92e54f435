package services

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anon-chat/internal/apperr"
	"anon-chat/internal/models"
)

var codePattern = regexp.MustCompile(`^[0-9A-Z]{6}$`)

func TestCreateGroupRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", models.RoleAdmin)
	user := env.newUser(t, "user", models.RoleUser)

	_, err := env.group.CreateGroup(ctx, user.ID, "Team")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = env.group.CreateGroup(ctx, admin.ID, "   ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	info, err := env.group.CreateGroup(ctx, admin.ID, "  Team ")
	require.NoError(t, err)
	assert.Equal(t, "Team", info.Name)
	assert.Regexp(t, codePattern, info.Code)
	assert.Equal(t, testBaseURL+"/join-group?code="+info.Code, info.JoinURL)
	assert.Equal(t, 0, info.MemberCount, "admin is not a member")

	listed, err := env.group.ListAdminGroups(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, info.ID, listed[0].ID)
}

func TestJoinGroupLabelsAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", models.RoleAdmin)
	a := env.newUser(t, "a", models.RoleUser)
	b := env.newUser(t, "b", models.RoleUser)
	c := env.newUser(t, "c", models.RoleUser)
	d := env.newUser(t, "d", models.RoleUser)
	info := env.newGroupWith(t, admin, "Team", a, b, c)

	joined, err := env.group.JoinGroup(ctx, d.ID, info.JoinURL)
	require.NoError(t, err)
	assert.Equal(t, "User 4", joined.Label)

	_, err = env.group.JoinGroup(ctx, b.ID, info.Code)
	assert.ErrorIs(t, err, apperr.ErrAlreadyMember)

	details, err := env.group.GetGroupDetails(ctx, admin.ID, info.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, details.MemberCount)
	require.Len(t, details.Members, 4)
	assert.Equal(t, "User 1", details.Members[0].Label)
	assert.Equal(t, "User 4", details.Members[3].Label)

	mine, err := env.group.ListMyGroups(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "User 2", mine[0].Label)
}

func TestFindGroupByCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", models.RoleAdmin)
	u := env.newUser(t, "u", models.RoleUser)
	info := env.newGroupWith(t, admin, "Team", u)

	preview, err := env.group.FindGroupByCode(ctx, u.ID, "  "+strings.ToLower(info.Code)+" ")
	require.NoError(t, err)
	assert.Equal(t, info.ID, preview.ID)
	assert.True(t, preview.IsMember)
	assert.Equal(t, 1, preview.MemberCount)

	_, err = env.group.FindGroupByCode(ctx, u.ID, "ZZZZZZ")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.group.FindGroupByCode(ctx, u.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestDeleteGroupOwnershipAndCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "owner", models.RoleAdmin)
	other := env.newUser(t, "other", models.RoleAdmin)
	member := env.newUser(t, "member", models.RoleUser)
	info := env.newGroupWith(t, owner, "Team", member)
	_, err := env.chat.SendGroupMessage(ctx, member.ID, info.ID, "hello")
	require.NoError(t, err)

	assert.ErrorIs(t, env.group.DeleteGroup(ctx, other.ID, info.ID), apperr.ErrForbidden)

	userTopic, cancel, err := env.bus.Subscribe(ctx, models.UserTopic(member.ID))
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, env.group.DeleteGroup(ctx, owner.ID, info.ID))
	select {
	case <-userTopic:
	default:
		t.Fatal("member was not notified")
	}

	mine, err := env.group.ListMyGroups(ctx, member.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
	assert.ErrorIs(t, env.group.DeleteGroup(ctx, owner.ID, info.ID), apperr.ErrNotFound)
}

func TestQRCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", models.RoleAdmin)
	info := env.newGroupWith(t, admin, "Team")

	png, err := env.group.QRCode(ctx, admin.ID, info.ID, 128)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestListMyGroupsHidesBlockedAndShowsAlias(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newUser(t, "admin", models.RoleAdmin)
	u := env.newUser(t, "u", models.RoleUser)
	first := env.newGroupWith(t, admin, "First", u)
	second := env.newGroupWith(t, admin, "Second", u)

	_, err := env.user.SetAlias(ctx, u.ID, "owl")
	require.NoError(t, err)
	require.NoError(t, env.users.AddBlockedGroup(ctx, u.ID, first.ID))

	mine, err := env.group.ListMyGroups(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, "User 1(owl)", mine[0].Label)
}

func TestCodeFromInput(t *testing.T) {
	assert.Equal(t, "AB12CD", CodeFromInput(" ab12cd "))
	assert.Equal(t, "AB12CD", CodeFromInput("https://chat.example.com/join-group?code=ab12cd"))
	assert.Equal(t, "AB12CD", CodeFromInput("/join-group?code=AB12CD"))
	assert.Equal(t, "", CodeFromInput("  "))
	assert.Equal(t, "https://x.test/join-group?code=Q1W2E3", JoinURL("https://x.test/", "Q1W2E3"))

	for i := 0; i < 50; i++ {
		code, err := newGroupCode()
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)
	}
}
