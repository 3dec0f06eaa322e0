package display

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Theme maps output roles to colors.
type Theme struct {
	Success *color.Color
	Warning *color.Color
	Error   *color.Color
	Info    *color.Color
	Muted   *color.Color
}

// DefaultTheme returns the standard role colors.
func DefaultTheme() Theme {
	return Theme{
		Success: color.New(color.FgHiGreen),
		Warning: color.New(color.FgHiYellow),
		Error:   color.New(color.FgHiRed),
		Info:    color.New(color.FgCyan),
		Muted:   color.New(color.FgWhite),
	}
}

// DetectColorSupport checks if the terminal supports colors.
func DetectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return termenv.ColorProfile() != termenv.Ascii
}
