// Package client reconstructs a complete ABX packet stream.
//
// A Controller runs one bulk fetch, works out which sequence numbers are
// missing from [1, max], asks the server for each of them once, and hands the
// ordered result to an output sink. All requests run one after another under a
// single run deadline.
package client
