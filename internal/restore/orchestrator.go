package restore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mssql-backup-verify/internal/apperrors"
	"mssql-backup-verify/internal/controlplane"
	"mssql-backup-verify/internal/logging"
)

// State names the phase the orchestrator is currently in.
type State string

const (
	StateCleaning       State = "cleaning"
	StateInspecting     State = "inspecting"
	StateRestoring      State = "restoring"
	StateGranting       State = "granting"
	StateAwaitingOnline State = "awaiting_online"
)

// FileEntry is one row of the backup's file list.
type FileEntry struct {
	LogicalName  string
	PhysicalName string
	Type         string // "D" data, "L" log
}

// CleanReport records the outcome of a pre-restore cleanup pass.
type CleanReport struct {
	Dropped []string
	Failed  map[string]error
}

// Orchestrator drives a single backup file through drop-restore-verify
// against one engine. Statement execution goes through the control-plane
// client; nothing here touches the engine directly.
type Orchestrator struct {
	Client          controlplane.Client
	Logger          *logging.Logger
	DataDir         string
	CommandTimeout  time.Duration
	RestoreTimeout  time.Duration
	GrantUser       string
	PollAttempts    int
	PollInterval    time.Duration
	SystemDatabases []string

	// NewBackOff lets tests replace the constant poll delay.
	NewBackOff func() backoff.BackOff

	// OnState receives phase transitions for progress reporting.
	OnState func(State)
}

func (o *Orchestrator) setState(s State) {
	if o.OnState != nil {
		o.OnState(s)
	}
}

func (o *Orchestrator) systemSet() map[string]bool {
	dbs := o.SystemDatabases
	if len(dbs) == 0 {
		dbs = []string{"master", "model", "msdb", "tempdb"}
	}
	set := make(map[string]bool, len(dbs))
	for _, db := range dbs {
		set[strings.ToLower(db)] = true
	}
	return set
}

// Clean drops every non-system database so the restore target starts from a
// known-empty engine. Individual drop failures are recorded and skipped; the
// pass itself only fails when the database list cannot be read.
func (o *Orchestrator) Clean(ctx context.Context) (CleanReport, error) {
	o.setState(StateCleaning)
	report := CleanReport{Failed: make(map[string]error)}

	system := o.systemSet()
	quoted := make([]string, 0, len(system))
	for _, db := range o.SystemDatabases {
		quoted = append(quoted, "'"+db+"'")
	}
	if len(quoted) == 0 {
		quoted = []string{"'master'", "'model'", "'msdb'", "'tempdb'"}
	}

	listStmt := fmt.Sprintf(
		"SELECT name FROM sys.databases WHERE name NOT IN (%s)", strings.Join(quoted, ","))
	result, err := o.Client.Execute(ctx, listStmt, o.CommandTimeout)
	if err != nil {
		return report, apperrors.Wrap(err, "failed to list databases for cleanup")
	}

	for _, name := range controlplane.ParseColumn(result.Stdout, "|", 0) {
		if system[strings.ToLower(name)] {
			continue
		}
		if err := o.dropDatabase(ctx, name); err != nil {
			report.Failed[name] = err
			continue
		}
		report.Dropped = append(report.Dropped, name)
	}

	if o.Logger != nil {
		o.Logger.LogCleanup("databases", len(report.Dropped), len(report.Failed), nil)
	}
	return report, nil
}

// dropDatabase forces single-user mode before the drop so open sessions
// cannot block it.
func (o *Orchestrator) dropDatabase(ctx context.Context, name string) error {
	single := fmt.Sprintf("ALTER DATABASE [%s] SET SINGLE_USER WITH ROLLBACK IMMEDIATE", name)
	if _, err := o.Client.Execute(ctx, single, o.CommandTimeout); err != nil {
		return err
	}
	drop := fmt.Sprintf("DROP DATABASE [%s]", name)
	_, err := o.Client.Execute(ctx, drop, o.CommandTimeout)
	return err
}

// Inspect reads the backup's file list and derives the target database name.
// An unresolvable name falls back to the sanitized file stem rather than
// failing the pipeline.
func (o *Orchestrator) Inspect(ctx context.Context, bakPath string) ([]FileEntry, string, error) {
	o.setState(StateInspecting)

	stmt := fmt.Sprintf("RESTORE FILELISTONLY FROM DISK=N'%s'", bakPath)
	result, err := o.Client.Execute(ctx, stmt, o.CommandTimeout)
	if err != nil {
		return nil, "", apperrors.Wrap(err, "failed to read backup file list")
	}

	files := parseFileList(result.Stdout)
	if len(files) == 0 {
		return nil, "", apperrors.NewRestoreError("backup file list is empty", nil).
			WithContext("bak_file", bakPath)
	}

	name, ambiguity := o.resolveDatabaseName(ctx, bakPath, files)
	if ambiguity != nil && o.Logger != nil {
		o.Logger.Warnf("%v", ambiguity)
	}
	return files, name, nil
}

// parseFileList extracts (logical, physical, type) triples. When the type
// column is missing the first two rows are taken as data and log by
// position.
func parseFileList(output string) []FileEntry {
	rows := controlplane.ParseRows(output, "|")
	var files []FileEntry
	for _, row := range rows {
		if len(row) >= 3 && (row[2] == "D" || row[2] == "L") {
			files = append(files, FileEntry{
				LogicalName:  row[0],
				PhysicalName: row[1],
				Type:         row[2],
			})
		}
	}
	if len(files) > 0 {
		return files
	}
	// Positional fallback: first name is the data file, second the log.
	for i, row := range rows {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		entry := FileEntry{LogicalName: row[0]}
		if len(row) > 1 {
			entry.PhysicalName = row[1]
		}
		if i == 0 {
			entry.Type = "D"
		} else {
			entry.Type = "L"
		}
		files = append(files, entry)
		if len(files) == 2 {
			break
		}
	}
	return files
}

func (o *Orchestrator) resolveDatabaseName(ctx context.Context, bakPath string, files []FileEntry) (string, *apperrors.AppError) {
	for _, f := range files {
		if f.Type == "D" && f.LogicalName != "" {
			return SanitizeDatabaseName(DatabaseNameFromLogical(f.LogicalName)), nil
		}
	}

	if name := o.nameFromHeader(ctx, bakPath); name != "" {
		return SanitizeDatabaseName(name), nil
	}

	// Last resort: the file stem. Recorded as a naming ambiguity, not an
	// error, because the restore can still proceed.
	stem := strings.TrimSuffix(filepath.Base(bakPath), filepath.Ext(bakPath))
	ambiguity := apperrors.NewNamingAmbiguity(
		fmt.Sprintf("backup metadata yields no database name, using file stem %q", stem), nil).
		WithContext("bak_file", bakPath)
	return SanitizeDatabaseName(stem), ambiguity
}

// nameFromHeader scans RESTORE HEADERONLY output for a plausible database
// name token.
func (o *Orchestrator) nameFromHeader(ctx context.Context, bakPath string) string {
	stmt := fmt.Sprintf("RESTORE HEADERONLY FROM DISK=N'%s'", bakPath)
	result, err := o.Client.Execute(ctx, stmt, o.CommandTimeout)
	if err != nil {
		return ""
	}
	for _, row := range controlplane.ParseRows(result.Stdout, "|") {
		for _, tok := range row {
			if isPlausibleName(tok) {
				return tok
			}
		}
	}
	return ""
}

// isPlausibleName filters header tokens down to identifier-shaped values.
func isPlausibleName(tok string) bool {
	if len(tok) < 2 || len(tok) > maxNameLen {
		return false
	}
	if tok == "NULL" {
		return false
	}
	hasLetter := false
	for _, r := range tok {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return hasLetter
}

// Restore relocates the data and log files into the engine's data directory
// under the target name. If the explicit MOVE form fails, one plain REPLACE
// restore is attempted before giving up.
func (o *Orchestrator) Restore(ctx context.Context, db string, bakPath string, files []FileEntry) error {
	o.setState(StateRestoring)

	var dataLogical, logLogical string
	for _, f := range files {
		switch f.Type {
		case "D":
			if dataLogical == "" {
				dataLogical = f.LogicalName
			}
		case "L":
			if logLogical == "" {
				logLogical = f.LogicalName
			}
		}
	}

	start := time.Now()
	if dataLogical != "" {
		stmt := fmt.Sprintf(
			"RESTORE DATABASE [%s] FROM DISK=N'%s' WITH MOVE N'%s' TO N'%s', ",
			db, bakPath, dataLogical, filepath.Join(o.DataDir, db+"_Data.mdf"))
		if logLogical != "" {
			stmt += fmt.Sprintf("MOVE N'%s' TO N'%s', ",
				logLogical, filepath.Join(o.DataDir, db+"_Log.ldf"))
		}
		stmt += "REPLACE"

		_, err := o.Client.Execute(ctx, stmt, o.RestoreTimeout)
		if o.Logger != nil {
			o.Logger.LogRestoreAttempt(db, 1, true, time.Since(start), err)
		}
		if err == nil {
			return nil
		}
	}

	// Fallback: let the engine keep the original file placement.
	start = time.Now()
	stmt := fmt.Sprintf("RESTORE DATABASE [%s] FROM DISK=N'%s' WITH REPLACE", db, bakPath)
	_, err := o.Client.Execute(ctx, stmt, o.RestoreTimeout)
	if o.Logger != nil {
		o.Logger.LogRestoreAttempt(db, 2, false, time.Since(start), err)
	}
	if err != nil {
		return apperrors.NewRestoreError(
			fmt.Sprintf("restore of database %s failed after fallback", db), err).
			WithContext("bak_file", bakPath)
	}
	return nil
}

// Grant adds the configured analysis user to db_owner. Failures are logged
// and swallowed; the analyzer runs as the control-plane user anyway.
func (o *Orchestrator) Grant(ctx context.Context, db string) {
	o.setState(StateGranting)
	if o.GrantUser == "" {
		return
	}
	stmt := fmt.Sprintf(
		"USE [%s]; IF NOT EXISTS (SELECT 1 FROM sys.database_principals WHERE name = N'%s') "+
			"CREATE USER [%s] FOR LOGIN [%s]; ALTER ROLE db_owner ADD MEMBER [%s]",
		db, o.GrantUser, o.GrantUser, o.GrantUser, o.GrantUser)
	if _, err := o.Client.Execute(ctx, stmt, o.CommandTimeout); err != nil && o.Logger != nil {
		o.Logger.Warnf("grant for user %s on %s failed: %v", o.GrantUser, db, err)
	}
}

// AwaitOnline polls until the restored database reports ONLINE. On
// exhaustion it gathers the engine's database list as a diagnostic.
func (o *Orchestrator) AwaitOnline(ctx context.Context, db string) error {
	o.setState(StateAwaitingOnline)

	attempts := o.PollAttempts
	if attempts < 1 {
		attempts = 5
	}

	var b backoff.BackOff
	if o.NewBackOff != nil {
		b = o.NewBackOff()
	} else {
		interval := o.PollInterval
		if interval <= 0 {
			interval = 2 * time.Second
		}
		b = backoff.NewConstantBackOff(interval)
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		stmt := fmt.Sprintf("SELECT name, state_desc FROM sys.databases WHERE name = N'%s'", db)
		result, err := o.Client.Execute(ctx, stmt, o.CommandTimeout)
		if err != nil {
			return err
		}
		state := ""
		for _, row := range controlplane.ParseRows(result.Stdout, "|") {
			if len(row) >= 2 && strings.EqualFold(row[0], db) {
				state = row[1]
			}
		}
		online := strings.EqualFold(state, "ONLINE")
		if o.Logger != nil {
			o.Logger.LogAvailabilityPoll(db, attempt, state, online)
		}
		if !online {
			return fmt.Errorf("database %s state is %q", db, state)
		}
		return nil
	}

	if err := backoff.Retry(operation, b); err != nil {
		visible := o.listDatabases(ctx)
		seen := "none"
		if len(visible) > 0 {
			seen = strings.Join(visible, ", ")
		}
		return apperrors.NewAvailabilityTimeout(
			fmt.Sprintf("database %s did not come online after %d attempts (engine sees: %s)",
				db, attempt, seen), err).
			WithContext("visible_databases", visible)
	}
	return nil
}

// listDatabases captures what the engine can see, for availability
// diagnostics.
func (o *Orchestrator) listDatabases(ctx context.Context) []string {
	result, err := o.Client.Execute(ctx, "SELECT name FROM sys.databases", o.CommandTimeout)
	if err != nil {
		return nil
	}
	return controlplane.ParseColumn(result.Stdout, "|", 0)
}
