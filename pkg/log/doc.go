// Package log provides a logging abstraction for logrelay components.
//
// The Logger interface can be implemented by any logging library. A zerolog
// adapter is provided for production use and a no-op logger for embedding
// and tests:
//
//	logger := log.NewConsole()          // zerolog console output
//	logger := log.NewZerolog(myLogger)  // wrap an existing zerolog.Logger
//	logger := log.NewNoop()             // discard everything
package log
