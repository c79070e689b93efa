package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letschat/internal/db/dbtest"
	"letschat/internal/models"
)

func newUser(t *testing.T, repo *UserRepo, name string) models.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), models.User{Name: name, Email: name + "@example.com", IsVerified: true})
	require.NoError(t, err)
	return u
}

func TestCreateUserDefaults(t *testing.T) {
	repo := NewUserRepo(dbtest.Open(t))

	u := newUser(t, repo, "alice")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, models.DefaultAbout, u.About)
	assert.False(t, u.CreatedAt.IsZero())
	assert.Empty(t, u.BlockedUsers)
	assert.Empty(t, u.Hidden.Peers)
}

func TestGetUserNotFound(t *testing.T) {
	repo := NewUserRepo(dbtest.Open(t))

	_, err := repo.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFindByIdentityPrefersEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(dbtest.Open(t))
	byEmail, err := repo.CreateUser(ctx, models.User{Email: "a@example.com"})
	require.NoError(t, err)
	byPhone, err := repo.CreateUser(ctx, models.User{PhoneNumber: "+15550001"})
	require.NoError(t, err)

	got, err := repo.FindByIdentity(ctx, "a@example.com", "+15550001")
	require.NoError(t, err)
	assert.Equal(t, byEmail.ID, got.ID)

	got, err = repo.FindByIdentity(ctx, "", "+15550001")
	require.NoError(t, err)
	assert.Equal(t, byPhone.ID, got.ID)

	_, err = repo.FindByIdentity(ctx, "nobody@example.com", "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMarkVerifiedFillsMissingIdentifiers(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(dbtest.Open(t))
	u, err := repo.CreateUser(ctx, models.User{PhoneNumber: "+1555"})
	require.NoError(t, err)

	got, err := repo.MarkVerified(ctx, u.ID, "new@example.com", "+1999")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)
	assert.Equal(t, "+1555", got.PhoneNumber)
	assert.True(t, got.IsVerified)
	assert.True(t, got.IsOnline)
}

func TestUpdateProfileKeepsEmptyFields(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(dbtest.Open(t))
	u := newUser(t, repo, "alice")

	got, err := repo.UpdateProfile(ctx, u.ID, "Alice", "", "http://img/a.png")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, models.DefaultAbout, got.About)
	assert.Equal(t, "http://img/a.png", got.Avatar)

	reloaded, err := repo.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Avatar, reloaded.Avatar)
}

func TestSetPresence(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(dbtest.Open(t))
	u := newUser(t, repo, "alice")
	seen := time.UnixMilli(1700000000123).UTC()

	require.NoError(t, repo.SetPresence(ctx, u.ID, false, seen))
	got, err := repo.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
	assert.Equal(t, seen, got.LastSeen)

	assert.ErrorIs(t, repo.SetPresence(ctx, "missing", true, seen), ErrUserNotFound)
}

func TestSearchUsers(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(dbtest.Open(t))
	me := newUser(t, repo, "alice")
	bob := newUser(t, repo, "bob")
	_, err := repo.CreateUser(ctx, models.User{Name: "bobby", IsVerified: false})
	require.NoError(t, err)

	got, err := repo.SearchUsers(ctx, me.ID, "BO", 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bob.ID, got[0].ID)

	got, err = repo.SearchUsers(ctx, me.ID, "%", 20)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBlocksAndHiddenPeers(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(dbtest.Open(t))
	alice := newUser(t, repo, "alice")
	bob := newUser(t, repo, "bob")

	require.NoError(t, repo.BlockUser(ctx, alice.ID, bob.ID))
	require.NoError(t, repo.BlockUser(ctx, alice.ID, bob.ID))

	blocked, err := repo.IsBlocked(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, blocked)

	require.NoError(t, repo.HidePeer(ctx, alice.ID, bob.ID))
	require.NoError(t, repo.SetPinHash(ctx, alice.ID, "hash"))

	got, err := repo.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob.ID}, got.BlockedUsers)
	assert.Equal(t, []string{bob.ID}, got.Hidden.Peers)
	assert.Equal(t, "hash", got.Hidden.PinHash)

	require.NoError(t, repo.UnblockUser(ctx, alice.ID, bob.ID))
	require.NoError(t, repo.UnhidePeer(ctx, alice.ID, bob.ID))
	blocked, err = repo.IsBlocked(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, blocked)

	got, err = repo.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, got.BlockedUsers)
	assert.Empty(t, got.Hidden.Peers)
}

func TestGetUsersSkipsUnknown(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(dbtest.Open(t))
	alice := newUser(t, repo, "alice")

	got, err := repo.GetUsers(ctx, []string{alice.ID, "ghost"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Name)

	got, err = repo.GetUsers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
