// Package tgui builds Telegram HTML replies. Text passed to the builder is
// escaped unless it is already an H.
package tgui
