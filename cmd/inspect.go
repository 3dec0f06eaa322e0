package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mssql-backup-verify/internal/archive"
	"mssql-backup-verify/internal/bakfile"
	"mssql-backup-verify/internal/display"
	"mssql-backup-verify/internal/logging"
)

var inspectFormat string

// inspectCmd analyzes backup bytes without touching any engine.
var inspectCmd = &cobra.Command{
	Use:   "inspect <bak-or-archive>",
	Short: "Derive backup metadata from file bytes without an engine",
	Long: `Inspect reads a .bak file (or every .bak inside a .zip archive) and
reports whatever can be derived from the bytes alone: signature, database
and server names, backup type and date, size-based content estimates, and a
spot-read health verdict. No SQL Server engine is involved.

Examples:
  mssql-backup-verify inspect nightly_20260830.bak
  mssql-backup-verify inspect nightly_20260830.zip --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "report format (text, json, yaml)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]

	paths, cleanup, err := inspectTargets(cmd, path)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return err
	}

	term := display.NewService(os.Stdout, !noColor, false)
	for i, p := range paths {
		meta := bakfile.Analyze(p)
		report, err := bakfile.Render(meta, inspectFormat)
		if err != nil {
			return err
		}
		if i > 0 && inspectFormat == "text" {
			term.Infof("")
		}
		fmt.Fprint(os.Stdout, report)
		if inspectFormat != "text" {
			fmt.Fprintln(os.Stdout)
		}
	}
	return nil
}

// inspectTargets resolves the argument to the .bak files to analyze. A zip
// archive is extracted to a throwaway working directory first.
func inspectTargets(cmd *cobra.Command, path string) ([]string, func(), error) {
	if !strings.HasSuffix(strings.ToLower(path), ".zip") {
		return []string{path}, nil, nil
	}

	extractor := archive.NewExtractor("", logging.NewDefaultLogger())
	workDir, payloads, err := extractor.Extract(cmd.Context(), path)
	cleanup := func() {
		if workDir != "" {
			os.RemoveAll(workDir)
		}
	}
	if err != nil {
		return nil, cleanup, err
	}

	paths := make([]string, len(payloads))
	for i, p := range payloads {
		paths[i] = p.Path
	}
	return paths, cleanup, nil
}
