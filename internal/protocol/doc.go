// Package protocol owns the ABX wire contract.
//
// Ownership boundary:
// - request frame (call type + single payload byte)
// - error kinds shared by the session and client layers
// - packet frames live in the packet subpackage
package protocol
