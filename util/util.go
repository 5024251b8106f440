package util

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Debug is the highest DPrintf level that is emitted.
var Debug uint64 = 0

// Log is the logger every package writes through.
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetLevel(logrus.InfoLevel)
}

// SetLevel configures Log from a level name such as "debug" or "warn".
// Debug output also raises the DPrintf threshold.
func SetLevel(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", name, err)
	}
	Log.SetLevel(lvl)
	if lvl >= logrus.DebugLevel {
		Debug = 5
	}
	return nil
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		Log.Debugf(format, a...)
	}
}

// FatalError is the panic value for unrecoverable conditions: resource
// exhaustion and broken on-disk or in-memory invariants.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return e.Msg
}

// Fatalf logs and aborts the calling goroutine with a *FatalError.
func Fatalf(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	Log.WithField("fatal", true).Error(msg)
	panic(&FatalError{Msg: msg})
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}

// SumOverflows reports whether a + b wraps around 2^64.
func SumOverflows(a uint64, b uint64) bool {
	return a+b < a
}
