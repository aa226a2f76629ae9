package logger

import (
	"fmt"
	"os"
)

// ANSI color codes. Disabled when NO_COLOR is set or stdout is redirected
// by the caller's environment convention.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

var colors = os.Getenv("NO_COLOR") == ""

func paint(code, s string) string {
	if !colors {
		return s
	}
	return code + s + reset
}

func line(symbol, color, tag, msg string) {
	fmt.Printf("%s %s %s\n", paint(color, symbol), paint(bold, "["+tag+"]"), msg)
}

// Info prints a neutral status line.
func Info(tag, msg string) {
	line("•", cyan, tag, msg)
}

// Success prints a good-news line.
func Success(tag, msg string) {
	line("✓", green, tag, msg)
}

// Warn prints a recoverable-problem line.
func Warn(tag, msg string) {
	line("!", yellow, tag, msg)
}

// Error prints a failure line.
func Error(tag, msg string) {
	line("✗", red, tag, msg)
}

// Banner prints the startup header.
func Banner(version string) {
	name := "bazaar-radar"
	if version != "" {
		name += " " + version
	}
	fmt.Println(paint(bold+cyan, "┌──────────────────────────────────────┐"))
	fmt.Printf("%s %-36s %s\n", paint(bold+cyan, "│"), name, paint(bold+cyan, "│"))
	fmt.Println(paint(bold+cyan, "└──────────────────────────────────────┘"))
}

// Section prints a titled divider.
func Section(title string) {
	fmt.Printf("\n%s %s\n", paint(bold, "──"), paint(bold, title))
}

// Stats prints one aligned key/value line under a Section.
func Stats(key string, value interface{}) {
	fmt.Printf("   %-16s %v\n", paint(dim, key), value)
}

// Server prints the listen address once the HTTP server is up.
func Server(addr string) {
	fmt.Printf("%s Listening on %s\n", paint(green, "➜"), paint(bold, "http://"+addr))
}
