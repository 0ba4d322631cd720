package logger

// Logger is the minimal structured logging surface the decision core
// writes to. Keyvals are alternating key/value pairs; a trailing key
// without a value is dropped.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}
