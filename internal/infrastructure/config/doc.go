// Package config loads and validates Fleetcore configuration.
//
// Configuration is read from a YAML file, with hardcoded defaults applied
// first and FLEETCORE_* environment variables applied last:
//
//	defaults -> config.yaml -> environment
//
// Secrets (MQTT password, InfluxDB token, JWT secret) should always come
// from the environment in production deployments.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
package config
