package bakfile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Render formats metadata in the requested output format.
func Render(meta Metadata, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "yaml":
		data, err := yaml.Marshal(meta)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "text", "":
		return renderText(meta), nil
	default:
		return "", fmt.Errorf("unsupported report format: %s", format)
	}
}

func renderText(meta Metadata) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Backup file: %s\n", meta.FileName)
	if !meta.Analyzed {
		fmt.Fprintf(&b, "Status:      analysis failed (%s)\n", meta.Error)
		return b.String()
	}

	fmt.Fprintf(&b, "Size:        %s (%d bytes)\n", humanize.Bytes(uint64(meta.FileSize)), meta.FileSize)
	fmt.Fprintf(&b, "Modified:    %s\n", meta.ModTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Database:    %s\n", meta.DatabaseName)
	fmt.Fprintf(&b, "Server:      %s\n", meta.ServerName)
	fmt.Fprintf(&b, "Type:        %s\n", meta.BackupType)
	fmt.Fprintf(&b, "Date:        %s\n", meta.BackupDate)
	fmt.Fprintf(&b, "SQL version: %s\n", meta.SQLVersion)
	fmt.Fprintf(&b, "Compressed:  %v   Encrypted: %v\n", meta.Compressed, meta.Encrypted)
	fmt.Fprintf(&b, "Restorable:  %v\n", meta.CanBeRestored)

	fmt.Fprintf(&b, "\nEstimates (%s):\n", meta.EstimationNote)
	fmt.Fprintf(&b, "  Tables: ~%d   Rows: ~%s\n", meta.EstimatedTables, humanize.Comma(meta.EstimatedRows))
	fmt.Fprintf(&b, "  Pages: %s   Data blocks: %d   Backup sets: %d\n",
		humanize.Comma(meta.PageCount), meta.DataBlocks, meta.BackupSets)

	fmt.Fprintf(&b, "\nHealth: %s (%d/%d regions readable, completion marker: %v)\n",
		meta.Integrity.Verdict, meta.Integrity.PointsReadable, meta.Integrity.PointsProbed,
		meta.Integrity.CompletionMarker)
	for _, w := range meta.Integrity.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", w)
	}

	return b.String()
}
