package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	kiloByte = 1024
	megaByte = 1024 * kiloByte
	gigaByte = 1024 * megaByte
)

type Config struct {
	Batch    batchConfig  `yaml:"batch"`
	Query    queryConfig  `yaml:"query"`
	Secretes objectSecrets
}

type batchConfig struct {
	Size                 int    `yaml:"size"`
	MaxMemoryBeforeSpill uint64 `yaml:"max_memory_before_spill"`
	ShouldDownload       bool   `yaml:"should_download"`
	MaxDownloadSizeMB    int    `yaml:"max_download_size_mb"` // max size to pull from external sources like S3
}

type queryConfig struct {
	EnableConcurrentExecution bool `yaml:"enable_concurrent_execution"`
	MaxConcurrentQueries      int  `yaml:"max_concurrent_queries"` // blocks after this many concurrent queries until one finishes
}

// objectSecrets comes from the environment, never from yaml.
type objectSecrets struct {
	AccessKey   string
	SecretKey   string
	EndpointURL string
	BucketName  string
}

var configInstance *Config = &Config{
	Batch: batchConfig{
		Size:                 1024 * 8, // rows per batch
		MaxMemoryBeforeSpill: uint64(gigaByte) * 2,
		ShouldDownload:       true,
		MaxDownloadSizeMB:    10,
	},
	Query: queryConfig{
		EnableConcurrentExecution: true,
		MaxConcurrentQueries:      2,
	},
}

func GetConfig() *Config {
	return configInstance
}

// overwrite global instance with loaded config
func Decode(filePath string) error {
	parts := strings.Split(filePath, ".")
	suffix := parts[len(parts)-1]
	if suffix != "yaml" && suffix != "yml" {
		return errors.New("file must be a .yaml or .yml file")
	}
	r, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer r.Close()
	raw := make(map[string]interface{})
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	mergeConfig(configInstance, raw)
	return nil
}

// LoadSecrets pulls object-store credentials from a .env file, falling
// back to whatever is already exported in the environment.
func LoadSecrets(envPath string) error {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}
	configInstance.Secretes = objectSecrets{
		AccessKey:   os.Getenv("OBJECT_STORE_ACCESS_KEY"),
		SecretKey:   os.Getenv("OBJECT_STORE_SECRET_KEY"),
		EndpointURL: os.Getenv("OBJECT_STORE_ENDPOINT"),
		BucketName:  os.Getenv("OBJECT_STORE_BUCKET"),
	}
	return nil
}

func mergeConfig(dst *Config, src map[string]interface{}) {
	if batch, ok := src["batch"].(map[string]interface{}); ok {
		if v, ok := batch["size"].(int); ok {
			dst.Batch.Size = v
		}
		if v, ok := batch["max_memory_before_spill"].(int); ok {
			dst.Batch.MaxMemoryBeforeSpill = uint64(v)
		}
		if v, ok := batch["should_download"].(bool); ok {
			dst.Batch.ShouldDownload = v
		}
		if v, ok := batch["max_download_size_mb"].(int); ok {
			dst.Batch.MaxDownloadSizeMB = v
		}
	}
	if query, ok := src["query"].(map[string]interface{}); ok {
		if v, ok := query["enable_concurrent_execution"].(bool); ok {
			dst.Query.EnableConcurrentExecution = v
		}
		if v, ok := query["max_concurrent_queries"].(int); ok {
			dst.Query.MaxConcurrentQueries = v
		}
	}
}
