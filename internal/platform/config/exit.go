package config

import (
	"fmt"
	"io"
	"os"
)

// Swapped in tests.
var (
	exitFunc           = os.Exit
	stderr   io.Writer = os.Stderr
)

// Exitf prints a formatted line to stderr and exits with status 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(stderr, format+"\n", args...)
	exitFunc(1)
}
