// Package logger provides adapters for popular logger libraries to work with verdb's Logger interface.
//
// The adapters allow you to use your existing logger with verdb without writing boilerplate.
// Note that the standard library's slog.Logger already implements verdb.Logger directly.
//
// Example with zap:
//
//	import (
//	    "verdb"
//	    "verdb/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    db, err := verdb.Open("data.db", verdb.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer db.Close()
//	}
package logger
