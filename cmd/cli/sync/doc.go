// Package sync provides the sync subcommand: it loads and validates the bot
// configuration, resolves the GitHub credential and repositories, prepares
// the local work tree with upstream and downstream remotes, reconciles every
// configured branch pair, and files tracking issues for failures.
package sync
