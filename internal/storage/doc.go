// Package storage persists folio records and the operator audit log.
//
// Two drivers are available:
//   - "sqlite": durable store on a single database file (WAL, one writer)
//   - "memory": process-local maps, used by tests and dry runs; the audit log
//     can still be appended to a JSON Lines file
//
// Timer state is never stored here; the deadline scheduler keeps it in memory.
package storage
