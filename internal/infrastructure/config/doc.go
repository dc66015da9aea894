// Package config handles loading and validating PLC Remote configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials should be set via PLCREMOTE_MQTT_USERNAME and
//     PLCREMOTE_MQTT_PASSWORD rather than committed to the YAML file
//   - Credentials are passed through to the broker unchanged
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.BrokerURL())
package config
