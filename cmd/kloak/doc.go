// Package main hosts the kloak CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, sets up structured
// logging, and hands files to internal/batch for stripping. inspect reports
// what a file carries without changing it; history and status read the
// ledger and preflight checks.
package main
