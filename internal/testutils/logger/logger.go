package logger

import (
	"io"
	"log"
)

// Null returns a logger which writes nothing.
func Null() *log.Logger {
	return log.New(io.Discard, "", log.LstdFlags)
}
