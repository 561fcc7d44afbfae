// dao/entity_dao.go
package dao

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/neottil/ditto/model"
)

const LabelEntity = "Entity"

// EntityDAO reads full entity projections from the authoritative store. It
// backs the caching facade's force-refetch path.
type EntityDAO struct {
	Driver neo4j.Driver
}

func NewEntityDAO(driver neo4j.Driver) *EntityDAO {
	return &EntityDAO{Driver: driver}
}

// RetrieveEntity returns the stored projection, or an empty projection when
// the entity does not exist (the flow turns that into a tombstone).
func (dao *EntityDAO) RetrieveEntity(ctx context.Context, id model.EntityID) (map[string]any, error) {
	session := dao.Driver.NewSession(neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close()

	result, err := session.ReadTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		query := `
        MATCH (e:` + LabelEntity + ` {id: $entityID})
        RETURN e
        `
		records, err := tx.Run(query, map[string]interface{}{"entityID": string(id)})
		if err != nil {
			return nil, err
		}
		if !records.Next() {
			return map[string]any{}, nil
		}
		node, ok := records.Record().Values[0].(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected record shape for entity %s", id)
		}
		document, ok := node.Props["document"].(string)
		if !ok {
			return nil, fmt.Errorf("entity node %s has no document", id)
		}
		var entity map[string]any
		if err := json.Unmarshal([]byte(document), &entity); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity document: %w", err)
		}
		return entity, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve entity: %w", err)
	}
	return result.(map[string]any), nil
}
