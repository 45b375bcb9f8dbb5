// Package runtime wires the embedded store and configuration into a single
// handle the services and servers share.
package runtime
