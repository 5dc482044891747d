// Package bridge shares a signed-in identity with embedded applications.
//
// A host holding an identity.Manager answers credential requests arriving on
// a MessagePort, but only from origins it was enabled for. An embedded
// application calls FromParent to ask its host for a credential and builds a
// Manager from the reply. Ports are either WebSocket connections (Handler on
// the host, Dial on the embedded side) or the in-memory pair from Pipe.
package bridge
