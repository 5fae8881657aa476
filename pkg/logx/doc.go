// Package logx is subwatch's structured logger, a small layer over zerolog.
//
// A Service owns the sinks and can be re-applied when the config file
// changes; Loggers handed out before the change follow it. The zero Logger
// discards everything, so components accept one by value and never nil-check.
package logx
