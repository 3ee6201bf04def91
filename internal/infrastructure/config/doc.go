// Package config handles loading and validating the DALI bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (DALIBRIDGE_*)
//   - Validation of required fields
//   - Default value handling
//
// Gateway credentials in the file only seed the settings store on first
// start. Once stored, the settings store wins and credential edits go
// through the HTTP API so that the session is rebuilt.
//
// Sensitive values (gateway password, MQTT password, InfluxDB token) should
// be set via environment variables and the file kept at 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.GetRefreshInterval())
package config
