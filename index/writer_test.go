package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neottil/ditto/model"
)

func metadataAt(revision int64) model.Metadata {
	return model.Metadata{EntityID: "org.example:sensor-1", EntityRevision: revision}
}

func TestExternalVersion(t *testing.T) {
	t.Run("PolicyChangeAloneAdvancesVersion", func(t *testing.T) {
		// same entity revision, recomputed under a newer policy
		old := model.PutWriteModel(metadataAt(12), 4, map[string]any{})
		recomputed := model.PutWriteModel(metadataAt(12), 5, map[string]any{})
		assert.Greater(t, externalVersion(recomputed), externalVersion(old))
	})

	t.Run("EntityRevisionOutranksPolicyRevision", func(t *testing.T) {
		older := model.PutWriteModel(metadataAt(12), 900, map[string]any{})
		newer := model.PutWriteModel(metadataAt(13), 1, map[string]any{})
		assert.Greater(t, externalVersion(newer), externalVersion(older))
	})

	t.Run("EmptiedOutOutranksPutAtSameEntityRevision", func(t *testing.T) {
		put := model.PutWriteModel(metadataAt(12), 4, map[string]any{})
		emptied := model.EmptiedOutWriteModel(metadataAt(12), 5)
		assert.Greater(t, externalVersion(emptied), externalVersion(put))
	})

	t.Run("ReapplicationYieldsSameVersion", func(t *testing.T) {
		first := model.PutWriteModel(metadataAt(12), 4, map[string]any{})
		again := model.PutWriteModel(metadataAt(12), 4, map[string]any{})
		assert.Equal(t, externalVersion(first), externalVersion(again))
	})
}

func TestCheckItemErrors(t *testing.T) {
	t.Run("AllItemsSucceeded", func(t *testing.T) {
		body := `{"errors":false,"items":[{"index":{"status":201}}]}`
		assert.NoError(t, checkItemErrors(strings.NewReader(body)))
	})

	t.Run("VersionConflictCountsAsApplied", func(t *testing.T) {
		body := `{"errors":true,"items":[
			{"index":{"status":409,"error":{"type":"version_conflict_engine_exception"}}},
			{"index":{"status":200}}]}`
		assert.NoError(t, checkItemErrors(strings.NewReader(body)))
	})

	t.Run("OtherItemFailuresSurface", func(t *testing.T) {
		body := `{"errors":true,"items":[
			{"index":{"status":200}},
			{"index":{"status":400,"error":{"type":"mapper_parsing_exception"}}}]}`
		err := checkItemErrors(strings.NewReader(body))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 items")
	})

	t.Run("MalformedBodySurfaces", func(t *testing.T) {
		assert.Error(t, checkItemErrors(strings.NewReader("not json")))
	})
}

func TestAppendOperation(t *testing.T) {
	t.Run("DeleteEmitsActionLineOnly", func(t *testing.T) {
		var buf strings.Builder
		require.NoError(t, appendOperation(&buf, "search-entities", model.DeleteWriteModel(metadataAt(13))))
		lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
		assert.Len(t, lines, 1)
		assert.Contains(t, lines[0], `"delete"`)
		assert.Contains(t, lines[0], `"version_type":"external"`)
	})

	t.Run("PutEmitsActionAndDocument", func(t *testing.T) {
		var buf strings.Builder
		m := model.PutWriteModel(metadataAt(12), 4, map[string]any{"attributes": map[string]any{}})
		require.NoError(t, appendOperation(&buf, "search-entities", m))
		lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
		assert.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"index"`)
		assert.Contains(t, lines[1], `"projection"`)
	})

	t.Run("NoopEmitsNothing", func(t *testing.T) {
		var buf strings.Builder
		require.NoError(t, appendOperation(&buf, "search-entities", model.NoopWriteModel(metadataAt(12))))
		assert.Zero(t, buf.Len())
	})
}
