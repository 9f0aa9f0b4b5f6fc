// Package session owns one ABX request's transport lifecycle.
//
// Ownership boundary:
// - connection open/send/receive/close for a single logical request
// - stream receiving in bulk and single-packet modes
// - retry/backoff under the caller's shared deadline
//
// Every blocking call observes the context it is given. Callers establish one
// deadline per run and pass the same context to every call; nothing in this
// package derives a fresh deadline.
package session
