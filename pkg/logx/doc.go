// Package logx is folibot's structured logger, a value type over zerolog.
//
// Console output is human readable, file output is JSON and an optional
// Telegram forwarder copies warnings to the operator group with personal
// data masked.
package logx
