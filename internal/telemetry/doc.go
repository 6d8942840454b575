// Package telemetry ingests device messages and maintains the operational
// record.
//
// Devices publish on <namespace>/devices/<deviceId>/<kind>:
//
//	status  {"online": bool, "firmware_version": "1.4.0"}
//	state   {"power": true, "brightness": 80, ...}
//	online  {"online": bool}
//
// For status and online, a missing "online" key means true: the message
// itself is evidence of life (a broker LWT publishes {"online": false}).
//
// # Pipeline
//
// Each message runs: topic parse (silent drop on shape mismatch), payload
// parse (drop and log), device resolve (drop if unknown), dispatch by
// kind. Handlers write in their own transaction scope; a failed state
// burst rolls back entirely, so redelivery can never half-apply.
//
// # Type inference
//
// State values are classified boolean > number > structured > string, in
// that order, with canonical encodings (see classifyValue). The order is
// part of the wire contract.
//
// # The sweeper
//
// Devices do not always say goodbye. The Sweeper periodically marks
// devices offline when last-seen falls behind the configured horizon and
// flips their registration status; it is the only producer of the offline
// lifecycle value.
package telemetry
