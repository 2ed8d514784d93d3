// Package report files GitHub tracking issues for failed branch
// reconciliations. It suppresses duplicates by exact title match against the
// downstream repository's open issues, renders the issue body from a template
// with the failing command, its output, and live work-tree diagnostics, and
// swallows every internal error so reporting can never crash a run.
package report
