// Package config handles loading and validating the Reclaim client configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (RECLAIM_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The private key path points at key material; keep it readable by the
//     service user only (0600)
//   - Tokens (InfluxDB) should be set via environment variables
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Identifier)
package config
