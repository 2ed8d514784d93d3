// Package execshell provides structured helpers for invoking external tools.
//
// It wraps os/exec with per-invocation debug logging via ShellExecutor,
// exposes OSCommandRunner for default process execution, and defines the
// abstractions upsync uses to run git, diagnostic listings, and verification
// hooks in a testable manner.
package execshell
