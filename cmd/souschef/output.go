package main

import (
	"fmt"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// Status output goes to stderr so command results on stdout stay pipeable.
func emit(color, glyph, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) {
	emit(colorGreen, "✓", format, args...)
}

func printError(format string, args ...any) {
	emit(colorRed, "✗", format, args...)
}

func printWarning(format string, args ...any) {
	emit(colorYellow, "⚠", format, args...)
}

func printStep(format string, args ...any) {
	emit(colorCyan, "→", format, args...)
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), val)
}
