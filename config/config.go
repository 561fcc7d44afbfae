// config/config.go
package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Configuration stores all the configurations
type Configuration struct {
	Neo4j         DatabaseConfiguration
	Redis         RedisConfiguration
	Elasticsearch ElasticsearchConfiguration
	Stream        StreamConfiguration
	Cache         CacheConfiguration
}

// DatabaseConfiguration stores data for database connection
type DatabaseConfiguration struct {
	URI      string
	Username string
	Password string
}

// RedisConfiguration stores data for Redis connection
type RedisConfiguration struct {
	Addr            string
	DefaultCacheTTL string
}

// ElasticsearchConfiguration stores data for Elasticsearch connection
type ElasticsearchConfiguration struct {
	URL   string
	Index string
}

// StreamConfiguration stores the knobs of the search-update stream
type StreamConfiguration struct {
	Parallelism      int
	MaxBulkSize      int
	AskTimeout       time.Duration
	RetrieveAttempts int
	CacheRetryDelay  time.Duration
}

// CacheConfiguration stores the knobs of the enforcer cache
type CacheConfiguration struct {
	TTL      time.Duration
	ErrorTTL time.Duration
	MaxSize  int
}

var config *Configuration

func InitConfig() error {
	viper.AddConfigPath("config") // path to look for the config file in
	viper.SetConfigName("config") // name of the config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name

	viper.AutomaticEnv() // read in environment variables that match

	// Set default configurations
	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.defaultCacheTTL", "10m")
	viper.SetDefault("elasticsearch.url", "http://localhost:9200")
	viper.SetDefault("elasticsearch.index", "search-entities")
	viper.SetDefault("stream.parallelism", 16)
	viper.SetDefault("stream.maxBulkSize", 100)
	viper.SetDefault("stream.askTimeout", "10s")
	// Ask retries and cache staleness retries are separate, differently
	// sourced bounds. Do not unify them.
	viper.SetDefault("stream.retrieveAttempts", 3)
	viper.SetDefault("stream.cacheRetryDelay", "1s")
	viper.SetDefault("cache.ttl", "5m")
	viper.SetDefault("cache.errorTTL", "10s")
	viper.SetDefault("cache.maxSize", 10000)

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found. Using default settings and environment variables.")
		} else {
			return err
		}
	}

	// Unmarshal the configuration into the Configuration struct
	err := viper.Unmarshal(&config)
	if err != nil {
		return err
	}

	return nil
}

// GetConfig returns the loaded configuration
func GetConfig() *Configuration {
	return config
}

// GetString retrieves a string value from the configuration
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt retrieves an integer value from the configuration
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetDuration retrieves a duration value from the configuration
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
