// Package log provides a small, pluggable logging facade used throughout
// the amqp package so the connection actor and its handlers never depend on
// a specific logging library directly.
package log

// Fields provides additional contextual information on logs; particularly
// useful for structured messages.
type Fields = map[string]any

// Level values assign a severity value to logged messages.
type Level uint

const (
	// Debug level should be used for information broadly interesting to
	// developers and operators.
	Debug Level = iota
	// Info level highlights the normal progress of the application.
	Info
	// Warning level covers potentially harmful situations of interest.
	Warning
	// Error level covers failures that prevent one operation from
	// completing but not the whole process.
	Error
	// Panic level precedes a call to panic().
	Panic
	// Fatal level precedes a call to os.Exit(1).
	Fatal
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Panic:
		return "panic"
	case Fatal:
		return "fatal"
	default:
		return "invalid-level"
	}
}

// SimpleLogger is the minimal leveled-logging contract.
type SimpleLogger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warning(args ...any)
	Warningf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Panic(args ...any)
	Panicf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

// Logger instances provide additional functionality on top of SimpleLogger.
type Logger interface {
	SimpleLogger

	// WithFields adds additional tags to the next chained message.
	WithFields(fields Fields) Logger

	// WithField adds a single key/value pair to the next chained message.
	WithField(key string, value any) Logger

	// SetLevel adjusts the verbosity of the logger; messages below lvl are
	// discarded.
	SetLevel(lvl Level)

	// Print logs a message at the given level.
	Print(level Level, args ...any)

	// Printf logs a formatted message at the given level.
	Printf(level Level, format string, args ...any)
}
