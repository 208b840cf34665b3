// Package gateway handles one query invocation end to end: decode, validate,
// execute, frame, log.
//
// Every invocation produces exactly one audit log append. That includes calls
// the transport refused before decoding, such as an oversized body or a
// client over its rate. A failed append never changes the response; it
// becomes a warning.
package gateway
