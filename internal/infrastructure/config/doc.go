// Package config handles loading and validating TinyMQTT configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Broker address and credentials are deliberately absent: they are runtime
// settings edited from the shell and persisted by the settings package.
//
// Security Considerations:
//   - Tokens (InfluxDB) should be set via environment variables or a .env file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Protocol)
package config
