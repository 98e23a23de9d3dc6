// Package notifier delivers owner-facing messages (deadline reminders,
// expiry notices, receipt confirmations) without making the caller wait on
// the transport.
//
// Send enqueues and returns an Outcome immediately. A small worker pool
// drains the queue through a transport.Sender, retrying failed sends with
// jittered exponential backoff. Delivery is at-most-once per attempt budget;
// nothing is persisted.
//
// # History
//
// The service keeps a short in-memory history of delivered messages for the
// operator /timers view.
package notifier
