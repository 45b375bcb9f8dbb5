// Package relaysvc ties the directories together for the publish path:
// a caller holding a channel's send key gets its message persisted and
// fanned out to every subscriber through the push platform.
package relaysvc
