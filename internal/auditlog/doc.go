// Package auditlog persists one entry per gateway invocation in a single
// JSON array file.
//
// Appends are serialized in-process by a mutex and across processes by an
// advisory lock on "<log>.lock". Every write goes to a temp file in the same
// directory, is fsynced and re-read, then renamed over the log, so a reader
// sees either the previous array or the new one, never a partial entry.
package auditlog
