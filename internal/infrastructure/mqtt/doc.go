// Package mqtt provides MQTT client connectivity for Fleetcore.
//
// This package manages:
//   - Connection to the fleet broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Devices publish telemetry to <namespace>/devices/<deviceId>/<kind> where
// kind is status, state or online. Fleetcore subscribes to the wildcard
// pattern for the whole namespace and routes each message by kind. Commands
// flow the other way, published to <namespace>/devices/<deviceId>/command.
//
//	Devices ↔ MQTT Broker ↔ Fleetcore
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Fleet.Namespace)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device telemetry
//	err = client.Subscribe(client.Topics().AllDevices(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish command
//	topic := client.Topics().DeviceCommand("dev-abc123")
//	client.Publish(topic, []byte(`{"command":"reboot"}`), 1, false)
package mqtt
