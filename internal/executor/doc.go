// Package executor launches the external worker and supervises its lifetime.
//
// Two variants share one contract (Executor.Run):
//   - Local spawns the worker directly from an argument vector. No shell is
//     involved, so payload text never reaches a command line.
//   - Remote runs the worker on another host over SSH. The remote side does
//     need a command string, so it is assembled only from configured fixed
//     arguments, each shell-quoted. The payload travels over stdin, optionally
//     staged first in a remote file named by its BLAKE3 digest.
//
// Timeout handling:
//   - A timer is armed when Run starts
//   - On expiry the local worker's process group gets SIGTERM, then SIGKILL
//     after the grace period
//   - The remote session is signalled and closed; the remote command is also
//     wrapped in timeout(1) so it cannot outlive the session
//
// Error classes (errors.Is):
//   - ErrTimeout: killed by the timer
//   - ErrExit: the worker ran and exited non-zero
//   - ErrTransport: spawn failure, unreachable host, broken session
//   - ErrCanceled: the caller's context ended first
//
// Output is captured in full. Truncation is the caller's decision.
package executor
