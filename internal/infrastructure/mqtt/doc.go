// Package mqtt provides the broker transport and topic naming for PLC Remote.
//
// Each controller is reached through two topics derived from its
// identifier:
//
//	<prefix>/status/<ID>    device -> client, JSON status snapshots
//	<prefix>/control/<ID>   client -> device, JSON relay commands
//
// The prefix defaults to "plc". Build topics with Topics rather than by
// string concatenation so a malformed identifier can never reach a
// topic filter:
//
//	pair, err := mqtt.Topics{}.ForDevice("aa:bb:cc:dd:ee:ff")
//	// pair.Status  == "plc/status/AABBCCDDEEFF"
//	// pair.Control == "plc/control/AABBCCDDEEFF"
//
// # Transport
//
// Client wraps paho.mqtt.golang. Paho's own auto-reconnect and connect
// retry are switched off: the session layer owns the reconnect policy
// and needs to observe every attempt. A Client therefore represents a
// single connection attempt and its lifetime:
//
//	client := mqtt.New(cfg.MQTT, mqtt.NewClientID(cfg.MQTT.Broker.ClientIDPrefix))
//	client.SetOnDisconnect(func(err error) { ... })
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	err = client.Subscribe(ctx, pair.Status, 0, func(topic string, payload []byte) {
//	    ...
//	})
//
// Handlers run on paho's delivery goroutine and must not block.
//
// # Security Considerations
//
//   - Use ssl:// or wss:// for brokers outside the local network
//   - Credentials come from config or PLCREMOTE_MQTT_* environment variables
//     and are never logged
package mqtt
