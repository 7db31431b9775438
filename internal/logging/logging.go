package logging

import (
	"log"
	"os"
)

func init() {
	// Set the global logger to use standard output with a date/time prefix;
	// sub-loggers add their own bracketed prefix after it.
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime)
}
