// Package mirror defines the types, errors, and small collaborator interfaces
// shared by the site-mirroring pipeline.
//
// A mirror run moves through the orchestrator (debounce + single-flight
// guard), resolves operator Settings once, invokes the external crawler per
// base URL into a scratch directory, publishes that tree into versioned
// storage, and records the result as an expiring Artifact.
package mirror
