// Package device defines the transport contract used to talk to a Bluetooth Low
// Energy (BLE) peripheral in the central role.
//
// The package is deliberately small:
//   - Transport: connect, disconnect, characteristic read/write, notification
//     enablement and a polling wait-for-notification primitive
//   - Notification and Listener: how inbound payloads reach the caller
//   - ConnectionError and NormalizeError: a structured view over BLE stack errors
//   - NormalizeUUID: a single canonical form for characteristic identifiers
//   - RingChannel: the bounded, overwrite-oldest queue transports buffer notifications in
//
// Concrete transports live in sub-packages (see go-ble).
package device
