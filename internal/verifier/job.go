package verifier

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"

	"mssql-backup-verify/internal/analyzer"
	"mssql-backup-verify/internal/apperrors"
	"mssql-backup-verify/internal/archive"
	"mssql-backup-verify/internal/config"
	"mssql-backup-verify/internal/controlplane"
	"mssql-backup-verify/internal/logging"
	"mssql-backup-verify/internal/restore"
)

// ProgressFunc receives step announcements as the pipeline advances.
type ProgressFunc func(step string, detail string)

// Job describes one verification run.
type Job struct {
	ArchivePath string
	Patterns    []string
	Retain      bool
	Progress    ProgressFunc
}

// JobResult is the structured outcome of a verification run.
type JobResult struct {
	Success          bool                 `json:"success" yaml:"success"`
	Error            string               `json:"error,omitempty" yaml:"error,omitempty"`
	EngineVersion    string               `json:"engine_version,omitempty" yaml:"engine_version,omitempty"`
	ArchiveFile      string               `json:"archive_file" yaml:"archive_file"`
	PayloadFile      string               `json:"payload_file,omitempty" yaml:"payload_file,omitempty"`
	DatabaseName     string               `json:"database_name,omitempty" yaml:"database_name,omitempty"`
	TablesFound      int                  `json:"tables_found" yaml:"tables_found"`
	TableDetails     []analyzer.TableInfo `json:"table_details,omitempty" yaml:"table_details,omitempty"`
	CleanupPerformed bool                 `json:"cleanup_performed" yaml:"cleanup_performed"`
	DatabaseKept     bool                 `json:"database_kept" yaml:"database_kept"`
}

// Runner executes verification jobs against a single engine. The engine can
// only host one drop-restore cycle at a time, so jobs are serialized.
type Runner struct {
	Client controlplane.Client
	Logger *logging.Logger
	Config *config.Config

	mu sync.Mutex
}

// NewRunner wires a runner from configuration.
func NewRunner(cfg *config.Config, client controlplane.Client, logger *logging.Logger) *Runner {
	return &Runner{Client: client, Logger: logger, Config: cfg}
}

func (r *Runner) progress(job Job, step, detail string) {
	if job.Progress != nil {
		job.Progress(step, detail)
	}
}

// Run drives one archive through download, extraction, restore, analysis and
// cleanup. Whatever happens mid-pipeline, the deferred finalizer removes the
// working directories and drops the restored database unless the job asked
// to retain it.
func (r *Runner) Run(ctx context.Context, job Job) (result JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result = JobResult{ArchiveFile: job.ArchivePath}
	patterns := job.Patterns
	if len(patterns) == 0 {
		patterns = r.Config.Patterns
	}

	extractor := archive.NewExtractor(r.Config.Archive.WorkRoot, r.Logger)

	var workDirs []string
	restoredDB := ""
	defer func() {
		result.CleanupPerformed = r.finalize(workDirs, restoredDB, job.Retain)
		result.DatabaseKept = restoredDB != "" && job.Retain
	}()

	fail := func(err error) JobResult {
		classified := apperrors.Classify(err)
		result.Error = classified.Error()
		if r.Logger != nil {
			r.Logger.Errorf("verification failed: %v", classified)
		}
		return result
	}

	r.progress(job, "preflight", "checking engine connectivity")
	version, err := controlplane.Preflight(ctx, r.Client, r.Config.Engine.CommandTimeout)
	if err != nil {
		return fail(err)
	}
	result.EngineVersion = version

	r.progress(job, "fetch", job.ArchivePath)
	source, err := archive.Resolve(job.ArchivePath, r.Config.Archive)
	if err != nil {
		return fail(err)
	}
	stageDir, err := extractor.NewWorkDir()
	if err != nil {
		return fail(err)
	}
	workDirs = append(workDirs, stageDir)
	localArchive, err := source.Fetch(ctx, job.ArchivePath, stageDir)
	if err != nil {
		return fail(err)
	}

	r.progress(job, "extract", localArchive)
	workDir, payloads, err := extractor.Extract(ctx, localArchive)
	if workDir != "" {
		workDirs = append(workDirs, workDir)
	}
	if err != nil {
		return fail(err)
	}
	payload := largestPayload(payloads)
	result.PayloadFile = payload.Path

	orch := &restore.Orchestrator{
		Client:          r.Client,
		Logger:          r.Logger,
		DataDir:         r.Config.Engine.DataDir,
		CommandTimeout:  r.Config.Engine.CommandTimeout,
		RestoreTimeout:  r.Config.Engine.RestoreTimeout,
		GrantUser:       r.Config.Engine.GrantUser,
		PollAttempts:    r.Config.Engine.PollAttempts,
		PollInterval:    r.Config.Engine.PollInterval,
		SystemDatabases: r.Config.Engine.SystemDatabases,
		OnState: func(s restore.State) {
			r.progress(job, string(s), "")
		},
	}

	if _, err := orch.Clean(ctx); err != nil {
		return fail(err)
	}

	files, dbName, err := orch.Inspect(ctx, payload.Path)
	if err != nil {
		return fail(err)
	}
	result.DatabaseName = dbName

	if err := orch.Restore(ctx, dbName, payload.Path, files); err != nil {
		return fail(err)
	}
	restoredDB = dbName

	orch.Grant(ctx, dbName)

	if err := orch.AwaitOnline(ctx, dbName); err != nil {
		return fail(err)
	}

	r.progress(job, "analyze", dbName)
	tableAnalyzer := &analyzer.Analyzer{
		Client:         r.Client,
		Logger:         r.Logger,
		CommandTimeout: r.Config.Engine.CommandTimeout,
	}
	tables, err := tableAnalyzer.Analyze(ctx, dbName, patterns)
	if err != nil {
		return fail(err)
	}
	result.TablesFound = len(tables)
	result.TableDetails = tables

	result.Success = true
	return result
}

// largestPayload prefers the biggest .bak when an archive carries several;
// nightly archives sometimes include partial stubs next to the real backup.
func largestPayload(payloads []archive.Payload) archive.Payload {
	best := payloads[0]
	for _, p := range payloads[1:] {
		if p.Size > best.Size {
			best = p
		}
	}
	return best
}

// finalize removes working directories and drops the restored database.
// Cleanup runs on a fresh context so a canceled pipeline still cleans up.
// Returns true only when nothing was left behind.
func (r *Runner) finalize(workDirs []string, restoredDB string, retain bool) bool {
	var errs *multierror.Error

	for _, dir := range workDirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", dir, err))
		}
	}

	if restoredDB != "" && !retain {
		ctx := context.Background()
		orch := &restore.Orchestrator{
			Client:          r.Client,
			Logger:          r.Logger,
			CommandTimeout:  r.Config.Engine.CommandTimeout,
			SystemDatabases: r.Config.Engine.SystemDatabases,
		}
		report, err := orch.Clean(ctx)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		for db, dropErr := range report.Failed {
			errs = multierror.Append(errs, fmt.Errorf("drop %s: %w", db, dropErr))
		}
	}

	err := errs.ErrorOrNil()
	if r.Logger != nil {
		dropped := 0
		if restoredDB != "" && !retain {
			dropped = 1
		}
		failed := 0
		if err != nil {
			failed = errs.Len()
		}
		r.Logger.LogCleanup("job", dropped, failed, err)
	}

	// Performed means nothing was left behind: no cleanup failures and no
	// deliberately retained database.
	if err != nil {
		return false
	}
	return !(restoredDB != "" && retain)
}
