// Package domain holds the data model shared across the module: the typed
// view of the topology file, the sidecar annotations document, the
// immutable revisioned snapshot handed to renderers, and the derivation of
// renderable graph elements from all of the above.
package domain
