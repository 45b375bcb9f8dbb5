// Package wechat is the push-platform collaborator: access-token caching,
// profile lookup, template delivery, webhook signature verification, and the
// XML envelope codec used by the inbound webhook.
package wechat
