// Package ledger keeps a SQLite history of strip runs.
//
// Each Entry records what happened to one input: its hash, detected kind,
// chosen strategy, outcome, and where the clean copy went. Metadata values
// found in the input are never stored; only the count of removed items is.
// The ledger lets `kloak history` answer "did I already strip this file" and
// lets batch runs skip inputs whose hash already produced a clean copy.
package ledger
