// Package logx is sheetload's structured logging layer on top of zerolog.
//
// A Service owns the sinks (console, JSON file) and can be reconfigured at
// runtime; Loggers derived from it follow every Apply. Loggers are values
// and are passed to components explicitly.
package logx
