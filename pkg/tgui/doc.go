// Package tgui holds small Telegram UI helpers: inline keyboards, callback
// data, HTML escaping and a message builder that defaults to HTML parse mode.
package tgui
