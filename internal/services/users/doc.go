// Package usersvc implements the user directory: one record per platform
// identity carrying the display name plus the ownership and subscription
// lists mirrored by the channel directory.
package usersvc
