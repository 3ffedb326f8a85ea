// Package worker runs the background retry loop. Each tick sweeps stale
// claims back to the due queue and replays every dispatch row whose retry
// deadline has passed. One runner per process is enough; claim semantics in
// the ledger keep concurrent runners safe.
package worker