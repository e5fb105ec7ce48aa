// Package batch strips many files concurrently and writes clean copies to
// an output directory.
//
// Each input is read fully, hashed, classified, and stripped through a
// shared stripper.Stripper. The clean bytes are scanned again before they
// are written; output that still carries removable metadata is discarded.
// Outputs are named from the container kind and the current time, never
// from the input name, so the filename itself leaks nothing. Every attempt
// is recorded in the ledger when one is configured.
package batch
