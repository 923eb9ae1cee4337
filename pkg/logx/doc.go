// Package logx configures remindbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram ops sink (min-level + rate limiting)
//
// Components never import zerolog directly. They receive a Logger derived
// with With(logx.String("comp", "...")) and attach fields per call.
package logx
