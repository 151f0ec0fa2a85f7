package log

// Discard returns a no-op logger. It is the default used by the amqp
// package when no logger option is provided.
func Discard() Logger {
	return discardLogger{}
}

type discardLogger struct{}

func (discardLogger) Debug(...any)                 {}
func (discardLogger) Debugf(string, ...any)        {}
func (discardLogger) Info(...any)                  {}
func (discardLogger) Infof(string, ...any)         {}
func (discardLogger) Warning(...any)               {}
func (discardLogger) Warningf(string, ...any)      {}
func (discardLogger) Error(...any)                 {}
func (discardLogger) Errorf(string, ...any)        {}
func (discardLogger) Panic(...any)                 {}
func (discardLogger) Panicf(string, ...any)        {}
func (discardLogger) Fatal(...any)                 {}
func (discardLogger) Fatalf(string, ...any)        {}
func (discardLogger) WithFields(Fields) Logger     { return discardLogger{} }
func (discardLogger) WithField(string, any) Logger { return discardLogger{} }
func (discardLogger) SetLevel(Level)               {}
func (discardLogger) Print(Level, ...any)          {}
func (discardLogger) Printf(Level, string, ...any) {}
