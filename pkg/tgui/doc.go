// Package tgui holds helpers for composing Telegram HTML messages.
// Values of type H are already escaped and can be concatenated freely.
package tgui
