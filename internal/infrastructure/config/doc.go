// Package config loads and validates the Flyport bridge service configuration.
//
// Values are resolved in three layers: hardcoded defaults, the YAML file,
// then GRAYLOGIC_* environment variables. Credentials (MQTT password,
// InfluxDB token) are expected to come from the environment.
//
// The per-board settings of the Flyport bridge live in a separate file
// referenced by protocols.flyport.config_file and are loaded by the bridge
// package itself.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
