// Package intake is the post-verification boundary for provider events.
//
// Upstream transports authenticate and parse raw deliveries; what crosses
// into this package is a trusted envelope. The processor validates envelope
// shape, extracts a tenant hint, and hands the event to the ingest service,
// which owns dedupe and dispatch.
package intake
