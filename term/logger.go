package term

// Logger sends the library logs to the console: Print and Printf are debug
// messages, Infof and Warnf are the routing decisions.
type Logger struct{}

func (l Logger) Print(a ...any) {
	Debug(a...)
}

func (l Logger) Println(a ...any) {
	Debug(a...)
}

func (l Logger) Printf(format string, a ...any) {
	Debugf(format, a...)
}

func (l Logger) Infof(format string, a ...any) {
	Infof(format, a...)
}

func (l Logger) Warnf(format string, a ...any) {
	Warnf(format, a...)
}
