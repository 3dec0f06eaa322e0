package bakfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"mssql-backup-verify/internal/apperrors"
)

// Read windows and thresholds for metadata derivation. The values bound how
// much of an arbitrarily large backup file is ever read.
const (
	minPlausibleSize  = 100
	minRestorableSize = 1024 * 1024
	headerWindow      = 8 * 1024
	metadataWindow    = 64 * 1024
	midSampleSize     = 8 * 1024
	probeSize         = 1024
	tailWindow        = 1024

	minStringRun        = 4
	zeroRunLimit        = 100
	maxCandidateStrings = 40

	dataBlockChunk     = 8 * 1024
	dataBlockScanLimit = 4 * 1024 * 1024
)

// Verdict summarizes the health probe outcome.
type Verdict string

const (
	VerdictGood      Verdict = "good"
	VerdictWarnings  Verdict = "warnings"
	VerdictCorrupted Verdict = "corrupted"
	VerdictError     Verdict = "error"
)

// Unknown is the sentinel for fields that could not be derived.
const Unknown = "Unknown"

// Metadata is everything derivable from backup bytes without an engine.
type Metadata struct {
	FilePath string    `json:"file_path" yaml:"file_path"`
	FileName string    `json:"file_name" yaml:"file_name"`
	FileSize int64     `json:"file_size" yaml:"file_size"`
	ModTime  time.Time `json:"mod_time" yaml:"mod_time"`

	Analyzed bool   `json:"analyzed" yaml:"analyzed"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`

	SignatureValid bool `json:"signature_valid" yaml:"signature_valid"`

	// CanBeRestored is the plausibility signal for the restore pipeline:
	// false for unreadable, corrupted or implausibly small files.
	CanBeRestored bool `json:"can_be_restored" yaml:"can_be_restored"`

	DatabaseName string `json:"database_name" yaml:"database_name"`
	ServerName   string `json:"server_name" yaml:"server_name"`
	BackupType   string `json:"backup_type" yaml:"backup_type"`
	BackupDate   string `json:"backup_date" yaml:"backup_date"`
	SQLVersion   string `json:"sql_version" yaml:"sql_version"`
	Compressed   bool   `json:"compressed" yaml:"compressed"`
	Encrypted    bool   `json:"encrypted" yaml:"encrypted"`

	// CandidateStrings are the first printable runs found in the metadata
	// window, kept for operators digging into an unidentified backup.
	CandidateStrings []string `json:"candidate_strings,omitempty" yaml:"candidate_strings,omitempty"`

	// Size-derived approximations, not measurements.
	EstimatedTables int    `json:"estimated_tables" yaml:"estimated_tables"`
	EstimatedRows   int64  `json:"estimated_rows" yaml:"estimated_rows"`
	EstimationNote  string `json:"estimation_note" yaml:"estimation_note"`

	PageCount  int64 `json:"page_count" yaml:"page_count"`
	DataBlocks int64 `json:"data_blocks" yaml:"data_blocks"`
	BackupSets int64 `json:"backup_sets" yaml:"backup_sets"`

	Integrity Integrity `json:"integrity" yaml:"integrity"`
}

// Integrity is the result of the spot-read health probe.
type Integrity struct {
	PointsProbed     int      `json:"points_probed" yaml:"points_probed"`
	PointsReadable   int      `json:"points_readable" yaml:"points_readable"`
	CompletionMarker bool     `json:"completion_marker" yaml:"completion_marker"`
	Verdict          Verdict  `json:"verdict" yaml:"verdict"`
	Warnings         []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

var knownSignatures = [][]byte{
	[]byte("Microsoft SQL Server Backup"),
	[]byte("TAPE"),
	[]byte("Microsoft SQL Server"),
	{0x01, 0x00, 0x00, 0x00},
}

var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}`),
		regexp.MustCompile(`\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}`),
		regexp.MustCompile(`\d{8} \d{6}`),
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`SQL Server \d{4}`),
		regexp.MustCompile(`Microsoft SQL Server\s+\d+\.\d+`),
		regexp.MustCompile(`\b1[0-6]\.\d+\.\d{4}\.\d+\b`),
	}
	databasePattern = regexp.MustCompile(`(?i)database:\s*([A-Za-z0-9_\-]{2,64})`)
	serverPattern   = regexp.MustCompile(`(?i)server:\s*([A-Za-z0-9_\-\.\\]{2,64})`)
)

// sizeTiers drives the content estimate. Buckets are approximations taken
// from observed production backups and are deliberately replaceable data.
var sizeTiers = []struct {
	maxMB     int64
	minTables int64
	tablesPer int64 // MB per estimated table
	rowsPerMB int64
}{
	{10, 1, 2, 1000},
	{100, 5, 5, 5000},
	{1000, 10, 10, 10000},
	{1 << 40, 20, 50, 50000},
}

// Analyze derives metadata from backup bytes. It never fails on merely
// unusual content; only when the file itself cannot be read does the result
// carry Analyzed=false and a top-level error.
func Analyze(path string) Metadata {
	meta := Metadata{
		FilePath:     path,
		FileName:     filepath.Base(path),
		DatabaseName: Unknown,
		ServerName:   Unknown,
		BackupType:   Unknown,
		BackupDate:   Unknown,
		SQLVersion:   Unknown,
	}

	info, err := os.Stat(path)
	if err != nil {
		meta.Error = err.Error()
		meta.Integrity.Verdict = VerdictError
		return meta
	}
	meta.FileSize = info.Size()
	meta.ModTime = info.ModTime()

	f, err := os.Open(path)
	if err != nil {
		meta.Error = err.Error()
		meta.Integrity.Verdict = VerdictError
		return meta
	}
	defer f.Close()

	meta.Analyzed = true

	if meta.FileSize < minPlausibleSize {
		corruption := apperrors.NewCorruptionError(
			fmt.Sprintf("file is only %d bytes, below any plausible backup size", meta.FileSize), nil)
		meta.CanBeRestored = false
		meta.Integrity.Verdict = VerdictCorrupted
		meta.Integrity.Warnings = append(meta.Integrity.Warnings, corruption.Error())
		return meta
	}

	meta.CanBeRestored = true
	if meta.FileSize < minRestorableSize {
		meta.CanBeRestored = false
		meta.Integrity.Warnings = append(meta.Integrity.Warnings,
			"file size unusually small for a database backup")
	}

	header := readWindow(f, 0, headerWindow)
	meta.SignatureValid = hasKnownSignature(header)

	metaBytes := readWindow(f, 0, metadataWindow)
	scanFields(&meta, metaBytes)

	estimateContent(&meta, readWindow(f, meta.FileSize/2, midSampleSize))
	meta.DataBlocks = countDataBlocks(f, meta.FileSize)
	estimateStructure(&meta)
	probeIntegrity(&meta, f)

	return meta
}

// readWindow reads up to size bytes at offset, clamped to the file bounds.
// Short or failed reads return what was available.
func readWindow(f *os.File, offset, size int64) []byte {
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, size)
	n, _ := f.ReadAt(buf, offset)
	return buf[:n]
}

// hasKnownSignature scans the whole header window; markers can sit past the
// leading block in TAPE-format backups.
func hasKnownSignature(header []byte) bool {
	for _, sig := range knownSignatures {
		if bytes.Contains(header, sig) {
			return true
		}
	}
	return false
}

// pageMarker is the page-header pattern counted as a data block.
var pageMarker = []byte{0x00, 0x01, 0x00, 0x00}

// countDataBlocks counts page-header patterns at chunk boundaries over the
// first few megabytes of the file.
func countDataBlocks(f *os.File, fileSize int64) int64 {
	var blocks int64
	buf := make([]byte, dataBlockChunk)
	for off := int64(0); off < fileSize && off < dataBlockScanLimit; off += dataBlockChunk {
		n, err := f.ReadAt(buf, off)
		if n >= 512 && bytes.Equal(buf[:4], pageMarker) {
			blocks++
		}
		if err != nil {
			break
		}
	}
	return blocks
}

// extractStrings pulls printable-ASCII runs of at least minStringRun bytes.
func extractStrings(data []byte) []string {
	var result []string
	var run []byte
	flush := func() {
		if len(run) >= minStringRun {
			result = append(result, string(run))
		}
		run = run[:0]
	}
	for _, b := range data {
		if b >= 0x20 && b <= 0x7e {
			run = append(run, b)
		} else {
			flush()
		}
	}
	flush()
	return result
}

// scanFields fills naming, type, date and version fields from printable
// strings found in the metadata window.
func scanFields(meta *Metadata, data []byte) {
	strs := extractStrings(data)
	joined := strings.Join(strs, "\n")

	if len(strs) > maxCandidateStrings {
		meta.CandidateStrings = strs[:maxCandidateStrings]
	} else {
		meta.CandidateStrings = strs
	}

	if m := databasePattern.FindStringSubmatch(joined); m != nil {
		meta.DatabaseName = m[1]
	}
	if m := serverPattern.FindStringSubmatch(joined); m != nil {
		meta.ServerName = m[1]
	}

	upper := strings.ToUpper(joined)
	switch {
	case strings.Contains(upper, "FULL"):
		meta.BackupType = "FULL"
	case strings.Contains(upper, "DIFFERENTIAL"):
		meta.BackupType = "DIFFERENTIAL"
	case strings.Contains(upper, "LOG"):
		meta.BackupType = "LOG"
	}

	for _, p := range datePatterns {
		if m := p.FindString(joined); m != "" {
			meta.BackupDate = m
			break
		}
	}
	for _, p := range versionPatterns {
		if m := p.FindString(joined); m != "" {
			meta.SQLVersion = m
			break
		}
	}

	meta.Compressed = strings.Contains(upper, "COMPRESSION") || strings.Contains(upper, "COMPRESSED")
	meta.Encrypted = strings.Contains(upper, "ENCRYPTION") || strings.Contains(upper, "ENCRYPTED")
}

// estimateContent derives table/row approximations from the file size tier,
// adjusted by the density of zeroed regions in a mid-file sample.
func estimateContent(meta *Metadata, midSample []byte) {
	sizeMB := meta.FileSize / (1024 * 1024)
	for _, tier := range sizeTiers {
		if sizeMB >= tier.maxMB {
			continue
		}
		tables := sizeMB / tier.tablesPer
		if tables < tier.minTables {
			tables = tier.minTables
		}
		meta.EstimatedTables = int(tables)
		meta.EstimatedRows = sizeMB * tier.rowsPerMB
		break
	}

	if bytes.Count(midSample, []byte{0, 0, 0, 0}) > zeroRunLimit {
		meta.EstimatedRows = meta.EstimatedRows * 3 / 2
	}
	meta.EstimationNote = "size-derived approximation"
}

// estimateStructure derives page and backup-set counts from the 8 KiB page
// geometry of SQL Server data files.
func estimateStructure(meta *Metadata) {
	meta.PageCount = meta.FileSize / 8192
	meta.BackupSets = meta.PageCount / 100000
	if meta.BackupSets < 1 {
		meta.BackupSets = 1
	}
}

// probeIntegrity spot-reads the file at four offsets and scans the tail for
// a completion marker, then assigns the overall verdict.
func probeIntegrity(meta *Metadata, f *os.File) {
	offsets := []int64{
		0,
		meta.FileSize / 4,
		meta.FileSize / 2,
		meta.FileSize * 3 / 4,
	}
	meta.Integrity.PointsProbed = len(offsets)
	for _, off := range offsets {
		buf := make([]byte, probeSize)
		if n, err := f.ReadAt(buf, off); err == nil || n > 0 {
			meta.Integrity.PointsReadable++
		}
	}

	tail := readWindow(f, meta.FileSize-tailWindow, tailWindow)
	tailText := strings.ToLower(strings.Join(extractStrings(tail), " "))
	meta.Integrity.CompletionMarker = strings.Contains(tailText, "backup complete")

	switch {
	case meta.Integrity.PointsReadable == 0:
		meta.CanBeRestored = false
		meta.Integrity.Verdict = VerdictCorrupted
		meta.Integrity.Warnings = append(meta.Integrity.Warnings,
			"no probed region of the file was readable")
	case meta.Integrity.PointsReadable < meta.Integrity.PointsProbed:
		meta.CanBeRestored = false
		meta.Integrity.Verdict = VerdictCorrupted
		meta.Integrity.Warnings = append(meta.Integrity.Warnings,
			fmt.Sprintf("only %d of %d probed regions were readable",
				meta.Integrity.PointsReadable, meta.Integrity.PointsProbed))
	case !meta.SignatureValid:
		meta.Integrity.Verdict = VerdictWarnings
		meta.Integrity.Warnings = append(meta.Integrity.Warnings,
			"no known backup signature found in the header")
	case meta.Encrypted:
		meta.Integrity.Verdict = VerdictWarnings
		meta.Integrity.Warnings = append(meta.Integrity.Warnings,
			"backup appears to be encrypted; content fields may be unreliable")
	default:
		meta.Integrity.Verdict = VerdictGood
	}
}
