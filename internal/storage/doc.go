// Package storage persists the bot's two pieces of durable state: the
// subscriber set (file, sqlite or redis driver) and the small state blob
// holding the broadcast interval.
package storage
