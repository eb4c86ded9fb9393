// Package fleetapi is the JSON request/response client for the fleet
// operations API. It backs the polling fallback (current state per
// system) and on-demand alert history queries; the live channel never
// goes through it.
package fleetapi
