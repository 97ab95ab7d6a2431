// Package internal defines the raft log entries (Command) and read requests (Query)
// exchanged between the raftstore client and its state machine.
//
// Commands are fixed size: one byte for the type followed by a big endian unix
// nanosecond timestamp. The timestamp travels with the command, the state machine
// never reads the clock, so all replicas apply identical changes.
package internal
