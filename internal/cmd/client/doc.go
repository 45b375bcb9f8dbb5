// Package clientcmd holds the CLI subcommands that talk to a running server
// over its HTTP API.
package clientcmd
