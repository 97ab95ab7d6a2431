// Package common holds the pieces shared by the command line and the library:
// the HarnessConfig describing a run and the logger factory that gives every
// package (including the raft library) the same log line format.
//
// Logging goes through dragonboats logger facade, so a package only needs
//
//	var log = logger.GetLogger("harness")
//
// and InitLoggers decides about format and level at startup.
package common
