// Package executor runs stage units as child processes.
//
// Each stage is spawned with no arguments, the project root as working
// directory and the parent's environment. Stdout and stderr are captured in
// full; when streaming is enabled each complete line is also written to the
// log as it arrives.
//
// Termination (timeout or context cancellation):
//   - SIGTERM is sent to the stage's process group
//   - after the grace period (default 5s) SIGKILL follows
//   - the stage fails with a StageError whose TimedOut or Canceled flag is set
//
// A non-zero exit status is returned as *StageError carrying the stage
// name, the exit status and both captured streams.
package executor
