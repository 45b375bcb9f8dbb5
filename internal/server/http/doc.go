// Package httpserver exposes the relay over HTTP: the platform webhook
// (verification handshake plus inbound events and text commands), the
// send-key publish endpoint, and content permalinks.
package httpserver
