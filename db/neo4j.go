// db/neo4j.go
package db

import (
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	logger "github.com/neottil/ditto/logging"
)

var Neo4jDriver neo4j.Driver

func InitNeo4j() error {
	driver, err := neo4j.NewDriver(
		viper.GetString("neo4j.uri"),
		neo4j.BasicAuth(viper.GetString("neo4j.username"), viper.GetString("neo4j.password"), ""),
	)
	if err != nil {
		return fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(); err != nil {
		return fmt.Errorf("failed to connect to Neo4j: %w", err)
	}

	Neo4jDriver = driver
	logger.Info("Successfully connected to Neo4j")
	return nil
}

func CloseNeo4j() {
	if Neo4jDriver != nil {
		if err := Neo4jDriver.Close(); err != nil {
			logger.Error("Error closing Neo4j connection", zap.Error(err))
		}
	}
}
