package jobs

import (
	"fmt"
	"log"
	"os"
)

// queueLogger routes asynq's internal logging into the application logger.
type queueLogger struct {
	logger *log.Logger
}

func newQueueLogger(logger *log.Logger) *queueLogger {
	return &queueLogger{logger: logger}
}

func (l *queueLogger) Debug(args ...interface{}) { l.print("debug", args) }
func (l *queueLogger) Info(args ...interface{})  { l.print("info", args) }
func (l *queueLogger) Warn(args ...interface{})  { l.print("warn", args) }
func (l *queueLogger) Error(args ...interface{}) { l.print("error", args) }

func (l *queueLogger) Fatal(args ...interface{}) {
	l.print("fatal", args)
	os.Exit(1)
}

func (l *queueLogger) print(level string, args []interface{}) {
	l.logger.Printf("asynq level=%s: %s", level, fmt.Sprint(args...))
}
