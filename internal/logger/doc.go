// Package logger wraps zap for the proxy and its CLI:
//   - a global sugared logger with a console encoder on stdout,
//   - an optional rotating log file (lumberjack) tee'd next to stdout,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and leveled helpers (Info, InfoKV, ErrorKV, etc.).
//
// Every component takes a context and logs through the logger stored in it,
// so request ids and component names flow without extra parameters.
package logger
