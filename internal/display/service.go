package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Service renders pipeline progress and reports to a terminal.
type Service struct {
	out          io.Writer
	theme        Theme
	colorEnabled bool
	showProgress bool
}

// NewService creates a display service. Color support is detected from the
// terminal unless colorEnabled is false.
func NewService(out io.Writer, colorEnabled, showProgress bool) *Service {
	if out == nil {
		out = os.Stdout
	}
	enabled := colorEnabled && DetectColorSupport()
	if !enabled {
		color.NoColor = true
	}
	return &Service{
		out:          out,
		theme:        DefaultTheme(),
		colorEnabled: enabled,
		showProgress: showProgress,
	}
}

// Step prints one progress line for a pipeline phase.
func (s *Service) Step(step, detail string) {
	if !s.showProgress {
		return
	}
	if detail != "" {
		fmt.Fprintf(s.out, "%s %s %s\n", s.theme.Info.Sprint("=>"), step, s.theme.Muted.Sprint(detail))
	} else {
		fmt.Fprintf(s.out, "%s %s\n", s.theme.Info.Sprint("=>"), step)
	}
}

// Successf prints a success line.
func (s *Service) Successf(format string, args ...interface{}) {
	fmt.Fprintln(s.out, s.theme.Success.Sprintf(format, args...))
}

// Warnf prints a warning line.
func (s *Service) Warnf(format string, args ...interface{}) {
	fmt.Fprintln(s.out, s.theme.Warning.Sprintf(format, args...))
}

// Errorf prints an error line.
func (s *Service) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(s.out, s.theme.Error.Sprintf(format, args...))
}

// Infof prints an informational line.
func (s *Service) Infof(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

// PrintReport renders a report value in the requested format. Text rendering
// is the caller's responsibility; this handles the structured formats.
func (s *Service) PrintReport(v interface{}, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, string(data))
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
	return nil
}
