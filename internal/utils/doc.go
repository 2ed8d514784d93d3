// Package utils hosts shared infrastructure for the upsync CLI: the viper
// configuration loader, the zap logger factory, and the writer chain that
// flushes output promptly and masks registered secrets before they reach any
// sink.
package utils
