// Package storage provides the persisted-string capability used for OAuth
// state, PKCE verifiers and serialized sessions.
//
// Three backends implement Store: MemoryStore for tests and single-process
// use, FileStore (a locked, atomically written JSON file that can be watched
// for changes by other processes) and KeyringStore (the OS keychain, with a
// FileStore fallback).
package storage
