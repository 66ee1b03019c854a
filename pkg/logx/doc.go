// Package logx configures remindd's structured logging.
//
// Logger is a thin value type over zerolog:
//   - console output is human readable (short timestamp, file:line caller)
//   - file output stays JSON
//   - an optional chat sink forwards warnings to an operator chat, rate limited
package logx
