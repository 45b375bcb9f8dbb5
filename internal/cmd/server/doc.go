// Package serverrun wires configuration, storage, the platform client, and
// the directory services into a running HTTP server.
package serverrun
