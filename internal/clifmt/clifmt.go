// Package clifmt colors CLI output. Color is applied only when stdout
// is a terminal and neither NO_COLOR nor TERM=dumb is set.
package clifmt

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

const (
	codeHeader  = "1;36"
	codeSuccess = "32"
	codeWarn    = "33"
	codeDim     = "2"
	codeKey     = "1;33"
)

func Headerf(format string, args ...any) string {
	return colorize(codeHeader, fmt.Sprintf(format, args...))
}

func Success(text string) string {
	return colorize(codeSuccess, text)
}

func Warn(text string) string {
	return colorize(codeWarn, text)
}

func Dim(text string) string {
	return colorize(codeDim, text)
}

// Key highlights an identifier the user is expected to copy, like an
// approval request id.
func Key(text string) string {
	return colorize(codeKey, text)
}

func colorize(code string, text string) string {
	if !useColor() {
		return text
	}
	return "\x1b[" + code + "m" + text + "\x1b[0m"
}

func useColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
