// Package logx is tracksched's structured logging facade over zerolog.
//
// Console output stays human readable (short timestamp, short caller) while
// the optional file sink writes one JSON object per line. Loggers derived
// from a Service follow its level and sinks across Apply calls.
package logx
