// Package scratch manages per-invocation temporary files for the strip
// engine.
//
// A Dir holds a shared flock on its lock file for as long as it is open.
// Sweep takes the exclusive lock, so it only removes leftovers when no live
// process is using the directory. CleanFilename names stripped output the
// way users see it.
package scratch
