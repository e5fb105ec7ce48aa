// Package preflight provides readiness checks for the directories and
// external binaries kloak depends on.
//
// The strip and batch commands call RunAll before touching any input so a
// read-only output directory fails fast instead of after every file has been
// decoded. The status command renders the same results as a table.
package preflight
