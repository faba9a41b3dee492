package perm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viaclara/clarad/internal/db"
	"github.com/viaclara/clarad/internal/lifx"
)

const eveningUUID = "9a7b6c5d-4e3f-2a1b-0c9d-8e7f6a5b4c3d"

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "perm_test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func directorySnapshot() *lifx.Snapshot {
	bedroom := &lifx.Ref{ID: "grp-bed", Name: "Bedroom"}
	office := &lifx.Ref{ID: "grp-off", Name: "Office"}

	devices := []lifx.Device{
		{ID: "d1", Label: "Bed Left", Group: bedroom},
		{ID: "d2", Label: "Bed Right", Group: bedroom},
		{ID: "d3", Label: "Desk", Group: office},
		{ID: "d4", Label: "Hall"},
	}
	scenes := []lifx.Scene{
		{
			UUID: eveningUUID,
			Name: "Evening",
			States: []lifx.TargetState{
				{Selector: "id:d1", Power: "on"},
				{Selector: "id:d3", Power: "on"},
			},
		},
	}
	return lifx.BuildSnapshot(devices, scenes)
}

func testUser(t *testing.T, s *Store) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), "frances", false)
	require.NoError(t, err)
	return u
}

func TestGrant_DeviceCascade(t *testing.T) {
	s := openStore(t)
	u := testUser(t, s)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, u.ID, KindDevice, "Bed Left", directorySnapshot()))

	set, err := s.Resolved(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, set.AllowsDeviceLabel("bed left"))
	assert.True(t, set.AllowsDeviceLabel("Bed Left"), "lookups are case-insensitive")
	assert.False(t, set.AllowsDeviceLabel("Desk"))
	assert.False(t, set.AllowsGroupName("Bedroom"))
}

func TestGrant_GroupCascade(t *testing.T) {
	s := openStore(t)
	u := testUser(t, s)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, u.ID, KindGroup, "Bedroom", directorySnapshot()))

	set, err := s.Resolved(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, set.AllowsGroupName("Bedroom"))
	assert.True(t, set.AllowsDeviceLabel("Bed Left"))
	assert.True(t, set.AllowsDeviceLabel("Bed Right"))
	assert.False(t, set.AllowsDeviceLabel("Desk"))
}

func TestGrant_SceneCascade(t *testing.T) {
	s := openStore(t)
	u := testUser(t, s)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, u.ID, KindScene, "Evening", directorySnapshot()))

	set, err := s.Resolved(ctx, u.ID)
	require.NoError(t, err)

	// Devices referenced by the scene's target states...
	assert.True(t, set.AllowsDeviceLabel("Bed Left"))
	assert.True(t, set.AllowsDeviceLabel("Desk"))
	// ...plus the groups those devices belong to
	assert.True(t, set.AllowsGroupName("Bedroom"))
	assert.True(t, set.AllowsGroupName("Office"))
	// But not devices the scene never mentions
	assert.False(t, set.AllowsDeviceLabel("Bed Right"))
	assert.False(t, set.AllowsDeviceLabel("Hall"))

	assert.True(t, set.AllowsSceneName("Evening"))
}

func TestGrant_NilSnapshotRejected(t *testing.T) {
	s := openStore(t)
	u := testUser(t, s)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, u.ID, KindDevice, "Bed Left", directorySnapshot()))

	err := s.Grant(ctx, u.ID, KindGroup, "Bedroom", nil)
	assert.ErrorIs(t, err, ErrResolutionFailed)

	// Existing grants and cascade are untouched
	grants, err := s.ListGrants(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, KindDevice, grants[0].Kind)

	set, err := s.Resolved(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, set.AllowsDeviceLabel("Bed Left"))
	assert.False(t, set.AllowsGroupName("Bedroom"))
}

func TestGrant_DuplicatesCollapse(t *testing.T) {
	s := openStore(t)
	u := testUser(t, s)
	ctx := context.Background()
	snap := directorySnapshot()

	require.NoError(t, s.Grant(ctx, u.ID, KindDevice, "Desk", snap))
	require.NoError(t, s.Grant(ctx, u.ID, KindDevice, "Desk", snap))
	require.NoError(t, s.Grant(ctx, u.ID, KindDevice, "desk", snap), "values are normalized")

	grants, err := s.ListGrants(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestCascadeStaleness(t *testing.T) {
	s := openStore(t)
	u := testUser(t, s)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, u.ID, KindGroup, "Bedroom", directorySnapshot()))

	// Bed Right leaves the Bedroom group after the cascade was resolved.
	// Directory changes happen cloud-side; the stored set must not shrink
	// until the next grant-save.
	set, err := s.Resolved(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, set.AllowsDeviceLabel("Bed Right"), "stale cascade is tolerated, not auto-healed")

	// Re-saving any grant against the changed directory recomputes the cascade
	office := &lifx.Ref{ID: "grp-off", Name: "Office"}
	bedroom := &lifx.Ref{ID: "grp-bed", Name: "Bedroom"}
	after := lifx.BuildSnapshot([]lifx.Device{
		{ID: "d1", Label: "Bed Left", Group: bedroom},
		{ID: "d2", Label: "Bed Right", Group: office},
	}, nil)
	require.NoError(t, s.Grant(ctx, u.ID, KindGroup, "Bedroom", after))

	set, err = s.Resolved(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, set.AllowsDeviceLabel("Bed Left"))
	assert.False(t, set.AllowsDeviceLabel("Bed Right"), "re-save picks up the new membership")
}

func TestRevoke(t *testing.T) {
	s := openStore(t)
	u := testUser(t, s)
	ctx := context.Background()
	snap := directorySnapshot()

	require.NoError(t, s.Grant(ctx, u.ID, KindGroup, "Bedroom", snap))
	require.NoError(t, s.Grant(ctx, u.ID, KindDevice, "Desk", snap))
	require.NoError(t, s.Revoke(ctx, u.ID, KindGroup, "Bedroom", snap))

	grants, err := s.ListGrants(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)

	set, err := s.Resolved(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, set.AllowsDeviceLabel("Bed Left"))
	assert.True(t, set.AllowsDeviceLabel("Desk"))
}

func TestGrant_UnknownKind(t *testing.T) {
	s := openStore(t)
	u := testUser(t, s)

	err := s.Grant(context.Background(), u.ID, Kind("location"), "Home", directorySnapshot())
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEnsureDefaultUsers(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureDefaultUsers(ctx))
	require.NoError(t, s.EnsureDefaultUsers(ctx), "idempotent")

	admin, err := s.GetUser(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.True(t, admin.IsAdmin)

	guest, err := s.GuestUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, guest)
	assert.True(t, guest.IsGuest)
	assert.False(t, guest.NLPEnabled)
}
