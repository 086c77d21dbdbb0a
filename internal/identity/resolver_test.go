package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/taskforge/sync/internal/config"
	"github.com/taskforge/sync/internal/store"
)

type stubContactLookup struct {
	openID string
	found  bool
	err    error
}

func (s *stubContactLookup) FindOpenIDByEmail(_ context.Context, _ string) (string, bool, error) {
	return s.openID, s.found, s.err
}

func setupResolverTest(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &store.Connection{DB: testDB.Connection}

	s, err := store.New(conn)
	require.NoError(t, err)

	return s
}

func TestResolveUsesCachedSheetOpenID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupResolverTest(ctx, t)

	member := &store.Member{
		Email:         "ada@example.com",
		ForgeUsername: "ada-gh",
		SheetOpenID:   "ou_ada",
		Role:          store.RoleDeveloper,
		Status:        store.MemberActive,
	}
	require.NoError(t, s.UpsertMember(ctx, s.Conn(), member))

	r := New(s, &stubContactLookup{err: assert.AnError}, nil)

	ids, err := r.Resolve(ctx, s.Conn(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ada-gh", ids.ForgeUsername)
	assert.Equal(t, "ou_ada", ids.SheetOpenID)
}

func TestResolveFallsBackToContactLookupAndCaches(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupResolverTest(ctx, t)

	member := &store.Member{
		Email:         "grace@example.com",
		ForgeUsername: "grace-gh",
		Role:          store.RoleDeveloper,
		Status:        store.MemberActive,
	}
	require.NoError(t, s.UpsertMember(ctx, s.Conn(), member))

	r := New(s, &stubContactLookup{openID: "ou_grace", found: true}, nil)

	ids, err := r.Resolve(ctx, s.Conn(), "grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ou_grace", ids.SheetOpenID)

	// Cached on the Member row for next time.
	reloaded, err := s.FindMemberByEmail(ctx, s.Conn(), "grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ou_grace", reloaded.SheetOpenID)
}

func TestResolveNonFatalOnMissingContact(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupResolverTest(ctx, t)

	member := &store.Member{
		Email:         "bo@example.com",
		ForgeUsername: "bo-gh",
		Role:          store.RoleMember,
		Status:        store.MemberActive,
	}
	require.NoError(t, s.UpsertMember(ctx, s.Conn(), member))

	r := New(s, &stubContactLookup{found: false}, nil)

	ids, err := r.Resolve(ctx, s.Conn(), "bo@example.com")
	require.NoError(t, err)
	assert.Equal(t, "bo-gh", ids.ForgeUsername)
	assert.Empty(t, ids.SheetOpenID)
}

func TestInvalidateClearsCachedSheetOpenID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupResolverTest(ctx, t)

	member := &store.Member{
		Email:         "nadia@example.com",
		ForgeUsername: "nadia-gh",
		SheetOpenID:   "ou_nadia",
		Role:          store.RoleQA,
		Status:        store.MemberActive,
	}
	require.NoError(t, s.UpsertMember(ctx, s.Conn(), member))

	r := New(s, &stubContactLookup{}, nil)

	require.NoError(t, r.Invalidate(ctx, s.Conn(), "nadia@example.com"))

	reloaded, err := s.FindMemberByEmail(ctx, s.Conn(), "nadia@example.com")
	require.NoError(t, err)
	assert.Empty(t, reloaded.SheetOpenID)
}
