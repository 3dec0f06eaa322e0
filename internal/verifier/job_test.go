package verifier

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mssql-backup-verify/internal/config"
	"mssql-backup-verify/internal/controlplane"
)

// fakeEngine scripts the whole engine conversation for pipeline tests.
type fakeEngine struct {
	mu         sync.Mutex
	calls      []string
	active     int32
	maxActive  int32
	restoreErr error
}

func (f *fakeEngine) Execute(ctx context.Context, statement string, timeout time.Duration) (controlplane.Result, error) {
	current := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if current <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, statement)
	f.mu.Unlock()

	switch {
	case strings.Contains(statement, "@@VERSION"):
		return controlplane.Result{Stdout: "Microsoft SQL Server 2019 (RTM)\n"}, nil
	case strings.Contains(statement, "FILELISTONLY"):
		return controlplane.Result{Stdout: "GWSCANNER_Data|C:\\d\\gw.mdf|D\nGWSCANNER_Log|C:\\d\\gw.ldf|L\n"}, nil
	case strings.Contains(statement, "RESTORE DATABASE"):
		if f.restoreErr != nil {
			return controlplane.Result{ExitCode: 1}, f.restoreErr
		}
		return controlplane.Result{}, nil
	case strings.Contains(statement, "state_desc"):
		return controlplane.Result{Stdout: "GWSCANNER|ONLINE\n"}, nil
	case strings.Contains(statement, "INFORMATION_SCHEMA.TABLES"):
		return controlplane.Result{Stdout: "dbo|GWSCANNER_RESULTS\n"}, nil
	case strings.Contains(statement, "INFORMATION_SCHEMA.COLUMNS"):
		return controlplane.Result{Stdout: "id|int\nscanned_at|datetime\n"}, nil
	case strings.Contains(statement, "COUNT(*)"):
		return controlplane.Result{Stdout: "42\n"}, nil
	case strings.Contains(statement, "TOP 5"):
		return controlplane.Result{Stdout: "1|2026-08-30\n"}, nil
	case strings.Contains(statement, "TOP 1"):
		return controlplane.Result{Stdout: "2026-08-30 01:00:00\n"}, nil
	case strings.HasPrefix(statement, "SELECT name FROM sys.databases"):
		return controlplane.Result{Stdout: "leftover_db\n"}, nil
	}
	return controlplane.Result{}, nil
}

func (f *fakeEngine) callsMatching(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []string
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			matched = append(matched, c)
		}
	}
	return matched
}

func testConfig(workRoot string) *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			Server:         "test",
			SqlcmdPath:     "sqlcmd",
			DataDir:        "/var/opt/mssql/data",
			CommandTimeout: time.Second,
			RestoreTimeout: time.Second,
			PollAttempts:   5,
			PollInterval:   time.Millisecond,
		},
		Archive:  config.ArchiveConfig{WorkRoot: workRoot},
		Patterns: []string{"GWSCANNER"},
	}
}

func writeArchive(t *testing.T, dir string, withPayload bool) string {
	t.Helper()

	path := filepath.Join(dir, "nightly.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	if withPayload {
		entry, err := w.Create("GWSCANNER_backup.bak")
		if err != nil {
			t.Fatal(err)
		}
		entry.Write([]byte("fake backup payload"))
	} else {
		entry, err := w.Create("readme.txt")
		if err != nil {
			t.Fatal(err)
		}
		entry.Write([]byte("no payload here"))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func remainingWorkDirs(t *testing.T, workRoot string) []string {
	t.Helper()
	entries, err := os.ReadDir(workRoot)
	if err != nil {
		t.Fatal(err)
	}
	var dirs []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "sql_restore_") {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func TestRunSuccess(t *testing.T) {
	workRoot := t.TempDir()
	engine := &fakeEngine{}
	runner := NewRunner(testConfig(workRoot), engine, nil)

	var steps []string
	result := runner.Run(context.Background(), Job{
		ArchivePath: writeArchive(t, t.TempDir(), true),
		Progress:    func(step, detail string) { steps = append(steps, step) },
	})

	if !result.Success {
		t.Fatalf("Run() failed: %s", result.Error)
	}
	if result.DatabaseName != "GWSCANNER" {
		t.Errorf("DatabaseName = %q, want GWSCANNER", result.DatabaseName)
	}
	if result.TablesFound != 1 {
		t.Errorf("TablesFound = %d, want 1", result.TablesFound)
	}
	if result.EngineVersion == "" {
		t.Error("EngineVersion not captured from preflight")
	}
	if !result.CleanupPerformed {
		t.Error("CleanupPerformed = false on a clean success")
	}
	if result.DatabaseKept {
		t.Error("DatabaseKept = true without --retain")
	}

	if dirs := remainingWorkDirs(t, workRoot); len(dirs) != 0 {
		t.Errorf("work dirs left behind: %v", dirs)
	}

	// The restored database is dropped again by the finalizer.
	if drops := engine.callsMatching("DROP DATABASE"); len(drops) == 0 {
		t.Error("finalizer never dropped anything")
	}

	if len(steps) == 0 || steps[0] != "preflight" {
		t.Errorf("progress steps = %v, want preflight first", steps)
	}
}

func TestRunRetainKeepsDatabase(t *testing.T) {
	workRoot := t.TempDir()
	engine := &fakeEngine{}
	runner := NewRunner(testConfig(workRoot), engine, nil)

	result := runner.Run(context.Background(), Job{
		ArchivePath: writeArchive(t, t.TempDir(), true),
		Retain:      true,
	})

	if !result.Success {
		t.Fatalf("Run() failed: %s", result.Error)
	}
	if !result.DatabaseKept {
		t.Error("DatabaseKept = false with --retain")
	}
	if result.CleanupPerformed {
		t.Error("CleanupPerformed = true although the database was kept")
	}

	// Work dirs are removed regardless of retention.
	if dirs := remainingWorkDirs(t, workRoot); len(dirs) != 0 {
		t.Errorf("work dirs left behind: %v", dirs)
	}

	// One cleanup pass before the restore, none after.
	if drops := engine.callsMatching("DROP DATABASE"); len(drops) != 1 {
		t.Errorf("DROP DATABASE calls = %d, want only the pre-restore cleanup", len(drops))
	}
}

func TestRunRestoreFailureStillCleansUp(t *testing.T) {
	workRoot := t.TempDir()
	engine := &fakeEngine{restoreErr: errors.New("media family corrupt")}
	runner := NewRunner(testConfig(workRoot), engine, nil)

	result := runner.Run(context.Background(), Job{
		ArchivePath: writeArchive(t, t.TempDir(), true),
	})

	if result.Success {
		t.Fatal("Run() succeeded although the restore failed")
	}
	if result.Error == "" {
		t.Error("Error not recorded")
	}
	if !result.CleanupPerformed {
		t.Error("CleanupPerformed = false; work dirs should still be removed")
	}
	if dirs := remainingWorkDirs(t, workRoot); len(dirs) != 0 {
		t.Errorf("work dirs left behind: %v", dirs)
	}
}

func TestRunNoPayload(t *testing.T) {
	workRoot := t.TempDir()
	engine := &fakeEngine{}
	runner := NewRunner(testConfig(workRoot), engine, nil)

	result := runner.Run(context.Background(), Job{
		ArchivePath: writeArchive(t, t.TempDir(), false),
	})

	if result.Success {
		t.Fatal("Run() succeeded although the archive had no payload")
	}
	if !strings.Contains(result.Error, "payload") {
		t.Errorf("Error = %q, want a missing-payload message", result.Error)
	}
	if dirs := remainingWorkDirs(t, workRoot); len(dirs) != 0 {
		t.Errorf("work dirs left behind: %v", dirs)
	}

	// The pipeline never reached the engine mutation stages.
	if restores := engine.callsMatching("RESTORE DATABASE"); len(restores) != 0 {
		t.Errorf("RESTORE DATABASE calls = %d, want 0", len(restores))
	}
}

func TestRunMissingArchive(t *testing.T) {
	workRoot := t.TempDir()
	runner := NewRunner(testConfig(workRoot), &fakeEngine{}, nil)

	result := runner.Run(context.Background(), Job{
		ArchivePath: filepath.Join(t.TempDir(), "absent.zip"),
	})

	if result.Success {
		t.Fatal("Run() succeeded for a missing archive")
	}
	if !result.CleanupPerformed {
		t.Error("CleanupPerformed = false; the stage dir should still be removed")
	}
}

func TestRunSerializesJobsPerEngine(t *testing.T) {
	workRoot := t.TempDir()
	engine := &fakeEngine{}
	runner := NewRunner(testConfig(workRoot), engine, nil)
	archivePath := writeArchive(t, t.TempDir(), true)

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := runner.Run(context.Background(), Job{ArchivePath: archivePath})
			if !result.Success {
				t.Errorf("Run() failed: %s", result.Error)
			}
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&engine.maxActive); max > 1 {
		t.Errorf("concurrent engine calls observed (max %d); jobs must be serialized", max)
	}
}
