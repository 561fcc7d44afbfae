package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestNewResourcePath(t *testing.T) {
	cases := []struct {
		raw  string
		want ResourcePath
	}{
		{"", RootPath},
		{"/", RootPath},
		{"//", RootPath},
		{"attributes", "/attributes"},
		{"/attributes/", "/attributes"},
		{"/attributes//location", "/attributes/location"},
		{"/features/temp/properties", "/features/temp/properties"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NewResourcePath(c.raw), "raw=%q", c.raw)
	}
}

func TestResourcePathSegments(t *testing.T) {
	assert.Empty(t, RootPath.Segments())
	assert.Equal(t, []string{"attributes", "location"}, ResourcePath("/attributes/location").Segments())
}

func TestResourcePathJoin(t *testing.T) {
	assert.Equal(t, ResourcePath("/attributes"), RootPath.Join("attributes"))
	assert.Equal(t, ResourcePath("/attributes/location"), ResourcePath("/attributes").Join("location"))
}

func TestIsAncestorOf(t *testing.T) {
	t.Run("RootIsAncestorOfEverything", func(t *testing.T) {
		assert.True(t, RootPath.IsAncestorOf("/attributes"))
		assert.True(t, RootPath.IsAncestorOf(RootPath))
	})

	t.Run("SegmentBoundary", func(t *testing.T) {
		assert.True(t, ResourcePath("/attributes").IsAncestorOf("/attributes/location"))
		assert.True(t, ResourcePath("/attributes").IsAncestorOf("/attributes"))
		assert.False(t, ResourcePath("/attributes").IsAncestorOf("/attributesBackup"))
		assert.False(t, ResourcePath("/attributes/location").IsAncestorOf("/attributes"))
	})
}

func TestLatestEvent(t *testing.T) {
	t.Run("NoEvents", func(t *testing.T) {
		assert.Nil(t, Metadata{}.LatestEvent())
	})

	t.Run("MostRecentTimestampWins", func(t *testing.T) {
		now := mustParse(t, "2026-08-30T10:00:00Z")
		m := Metadata{Events: []Event{
			{Type: EventDeleted, Revision: 2, Timestamp: now.Add(-1)},
			{Type: EventModified, Revision: 3, Timestamp: now},
		}}
		latest := m.LatestEvent()
		assert.Equal(t, EventModified, latest.Type)
		assert.Equal(t, int64(3), latest.Revision)
	})
}

func TestReferencedRevision(t *testing.T) {
	m := Metadata{PolicyTags: []PolicyTag{
		{ID: "org.example:a", Revision: 7},
		{ID: "org.example:b", Revision: 2},
	}}

	revision, ok := m.ReferencedRevision("org.example:b")
	assert.True(t, ok)
	assert.Equal(t, int64(2), revision)

	_, ok = m.ReferencedRevision("org.example:unknown")
	assert.False(t, ok)
}

func TestPermissions(t *testing.T) {
	perms := NewPermissions(PermissionRead, PermissionWrite)
	assert.True(t, perms.Contains(PermissionRead))
	assert.False(t, perms.Contains(PermissionExecute))
	assert.True(t, perms.ContainsAll(PermissionRead, PermissionWrite))
	assert.False(t, perms.ContainsAll(PermissionRead, PermissionExecute))
	assert.True(t, NewPermissions().IsEmpty())
}
