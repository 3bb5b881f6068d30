package shared

import (
	"encoding/json"
	"fmt"
)

// DbType selects a record store backend.
type DbType string

const (
	DbTypeMemory   DbType = "memory"
	DbTypeSqlite   DbType = "sqlite"
	DbTypePostgres DbType = "postgres"
	// Add more database types here as you implement them
)

func (t DbType) String() string {
	return string(t)
}

// IsValid reports whether the type names a supported backend.
func (t DbType) IsValid() bool {
	switch t {
	case DbTypeMemory, DbTypeSqlite, DbTypePostgres:
		return true
	}
	return false
}

// DbProviderConfig is the JSON document that selects and configures a backend, e.g.
//
//	{"db_type":"sqlite","extra_details":{"path":"eppraise.db"}}
//	{"db_type":"postgres","extra_details":{"conn_str":"postgresql://..."}}
type DbProviderConfig struct {
	DbType       DbType                 `json:"db_type"`
	ExtraDetails map[string]interface{} `json:"extra_details"`
}

// ParseProviderConfig decodes a provider configuration document.
func ParseProviderConfig(configJSON string) (DbProviderConfig, error) {
	var config DbProviderConfig
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return config, fmt.Errorf("failed to parse database configuration JSON: %w", err)
	}
	return config, nil
}

// Detail returns a string entry of ExtraDetails.
func (c DbProviderConfig) Detail(key string) (string, bool) {
	v, ok := c.ExtraDetails[key].(string)
	return v, ok && v != ""
}
