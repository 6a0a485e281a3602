package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config captures environment driven configuration values for the tablestore
// service.
type Config struct {
	HTTPPort        int
	DataDir         string
	PrimarySchema   string
	AllowedSchemas  []string
	BackupRetention int
	Actor           string
}

// Load parses configuration values from the current process environment.
//
// The loader applies sensible defaults for optional fields while validating
// the values it does find. The schema allow-list always contains the primary
// schema.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:        8080,
		DataDir:         "data",
		PrimarySchema:   "main",
		AllowedSchemas:  []string{"main"},
		BackupRetention: 5,
		Actor:           "system",
	}

	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("TABLESTORE_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "TABLESTORE_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dir := strings.TrimSpace(os.Getenv("TABLESTORE_DATA_DIR")); dir != "" {
		cfg.DataDir = dir
	}

	if primary := strings.TrimSpace(os.Getenv("TABLESTORE_PRIMARY_SCHEMA")); primary != "" {
		if !validSchemaName(primary) {
			invalid = append(invalid, "TABLESTORE_PRIMARY_SCHEMA")
		} else {
			cfg.PrimarySchema = primary
		}
	}

	if schemas := strings.TrimSpace(os.Getenv("TABLESTORE_SCHEMAS")); schemas != "" {
		names := make([]string, 0, 4)
		ok := true
		for _, name := range strings.Split(schemas, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if !validSchemaName(name) {
				ok = false
				break
			}
			names = append(names, name)
		}
		if !ok || len(names) == 0 {
			invalid = append(invalid, "TABLESTORE_SCHEMAS")
		} else {
			cfg.AllowedSchemas = names
		}
	}

	if retention := strings.TrimSpace(os.Getenv("TABLESTORE_BACKUP_RETENTION")); retention != "" {
		keep, err := strconv.Atoi(retention)
		if err != nil || keep <= 0 {
			invalid = append(invalid, "TABLESTORE_BACKUP_RETENTION")
		} else {
			cfg.BackupRetention = keep
		}
	}

	if actor := strings.TrimSpace(os.Getenv("TABLESTORE_ACTOR")); actor != "" {
		cfg.Actor = actor
	}

	if !contains(cfg.AllowedSchemas, cfg.PrimarySchema) {
		cfg.AllowedSchemas = append([]string{cfg.PrimarySchema}, cfg.AllowedSchemas...)
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// validSchemaName mirrors the identifier rule enforced by the persistence
// layer: lower-case letters, digits and underscores, not starting with a
// digit.
func validSchemaName(name string) bool {
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return len(name) > 0
}
