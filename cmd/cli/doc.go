// Package cli assembles the upsync command-line application: the Cobra root
// command, the viper configuration loader, the credential-redacting logging
// sink, and the sync subcommand.
package cli
