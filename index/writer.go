// index/writer.go
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	logger "github.com/neottil/ditto/logging"
	"github.com/neottil/ditto/model"
)

// Writer commits write-model batches to an Elasticsearch index. Documents
// are versioned externally by entity and policy revision, so re-applying a
// batch under at-least-once delivery is a no-op for already-applied
// revisions.
type Writer struct {
	esClient *elasticsearch.Client
	index    string
}

// NewWriter creates a writer with a given Elasticsearch client URL.
func NewWriter(esURL, index string) (*Writer, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esURL},
	}
	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Writer{esClient: esClient, index: index}, nil
}

// WriteBulk translates a write-model batch into one bulk request. No-op
// models are skipped; an all-noop batch sends nothing.
func (w *Writer) WriteBulk(ctx context.Context, models []model.WriteModel) error {
	var buf strings.Builder
	for _, m := range models {
		if err := appendOperation(&buf, w.index, m); err != nil {
			return err
		}
	}
	if buf.Len() == 0 {
		return nil
	}

	req := esapi.BulkRequest{
		Index: w.index,
		Body:  strings.NewReader(buf.String()),
	}
	res, err := req.Do(ctx, w.esClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error executing bulk request: %s", res.String())
	}
	if err := checkItemErrors(res.Body); err != nil {
		return err
	}
	logger.Debug("Bulk write committed", zap.Int("models", len(models)))
	return nil
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type bulkItem struct {
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// checkItemErrors inspects the per-item results of a bulk response, which
// arrives with HTTP 200 even when individual operations failed. Version
// conflicts mean the document was already applied at this or a higher
// version and count as success.
func checkItemErrors(body io.Reader) error {
	var parsed bulkResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}
	var failed int
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Status == http.StatusConflict || result.Status < 400 {
				continue
			}
			failed++
			logger.Warn("Bulk item rejected",
				zap.Int("status", result.Status), zap.ByteString("error", result.Error))
		}
	}
	if failed > 0 {
		return fmt.Errorf("bulk request rejected %d items", failed)
	}
	return nil
}

func appendOperation(buf *strings.Builder, index string, m model.WriteModel) error {
	switch m.Kind {
	case model.WriteModelNoop:
		return nil
	case model.WriteModelDelete:
		return appendAction(buf, "delete", index, m, nil)
	case model.WriteModelEmptiedOut:
		// keep the index entry, clear its contents
		doc := map[string]any{
			"entityId":       string(m.EntityID),
			"entityRevision": m.EntityRevision,
		}
		return appendAction(buf, "index", index, m, doc)
	case model.WriteModelPut:
		doc := map[string]any{
			"entityId":       string(m.EntityID),
			"entityRevision": m.EntityRevision,
			"policyRevision": m.PolicyRevision,
			"projection":     m.Projection,
		}
		return appendAction(buf, "index", index, m, doc)
	default:
		return fmt.Errorf("unknown write model kind: %s", m.Kind)
	}
}

// policyRevisionBits sizes the minor component of the external version.
const policyRevisionBits = 20

// externalVersion orders documents by entity revision first and policy
// revision second, so a recomputation triggered by a policy change alone
// still advances the version and replaces the stale projection.
func externalVersion(m model.WriteModel) int64 {
	return m.EntityRevision<<policyRevisionBits | (m.PolicyRevision & (1<<policyRevisionBits - 1))
}

func appendAction(buf *strings.Builder, action, index string, m model.WriteModel, doc map[string]any) error {
	meta := map[string]any{
		action: map[string]any{
			"_index":       index,
			"_id":          string(m.EntityID),
			"version":      externalVersion(m),
			"version_type": "external",
		},
	}
	metaLine, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	buf.Write(metaLine)
	buf.WriteByte('\n')

	if doc != nil {
		docLine, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		buf.Write(docLine)
		buf.WriteByte('\n')
	}
	return nil
}
