// Package channelsvc implements the channel directory: creation and deletion
// of broadcast channels, the secret send key used to authorize publishes,
// and the subscriber list mirrored against the user directory.
//
// Invariant: a user id appears in a channel's subscriber list exactly when
// that channel's id appears in the user's subscription list. Both sides are
// always updated together, user side first.
package channelsvc
