package controlplane

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"mssql-backup-verify/internal/apperrors"
	"mssql-backup-verify/internal/logging"
)

// Result holds the outcome of a single sqlcmd invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Client executes T-SQL statements against the engine. Implementations must
// be safe for sequential use by the orchestrator; the verifier serializes
// access per engine.
type Client interface {
	Execute(ctx context.Context, statement string, timeout time.Duration) (Result, error)
}

// SqlcmdClient shells out to the sqlcmd command-line utility for every
// statement. No driver connection to the engine exists anywhere in the
// pipeline; this process boundary is the entire control plane.
type SqlcmdClient struct {
	Path        string
	Server      string
	Username    string
	Password    string
	TrustedAuth bool
	Separator   string
	Logger      *logging.Logger
}

// NewSqlcmdClient creates a client with the standard query formatting flags.
func NewSqlcmdClient(path, server, username, password string, trustedAuth bool, logger *logging.Logger) *SqlcmdClient {
	if path == "" {
		path = "sqlcmd"
	}
	return &SqlcmdClient{
		Path:        path,
		Server:      server,
		Username:    username,
		Password:    password,
		TrustedAuth: trustedAuth,
		Separator:   "|",
		Logger:      logger,
	}
}

// Execute runs one statement with a hard timeout. A timed-out call returns a
// recoverable timeout error; a nonzero exit returns a control-plane error
// carrying stderr. The Result is populated in both cases so callers that
// tolerate failure (cleanup) can still inspect the output.
func (c *SqlcmdClient) Execute(ctx context.Context, statement string, timeout time.Duration) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-S", c.Server}
	if c.TrustedAuth {
		args = append(args, "-E")
	} else {
		args = append(args, "-U", c.Username, "-P", c.Password)
	}
	args = append(args, "-Q", statement, "-h", "-1", "-W")
	if c.Separator != "" {
		args = append(args, "-s", c.Separator)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(callCtx, c.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	var err error
	switch {
	case callCtx.Err() == context.DeadlineExceeded:
		err = apperrors.NewControlPlaneTimeout("statement timed out", callCtx.Err()).
			WithContext("timeout", timeout.String())
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			err = apperrors.NewControlPlaneError("statement failed", runErr).
				WithContext("exit_code", result.ExitCode).
				WithContext("stderr", result.Stderr)
		} else {
			err = apperrors.Classify(runErr)
		}
	}

	if c.Logger != nil {
		c.Logger.LogControlPlaneCall(statement, duration, result.ExitCode, err)
	}
	return result, err
}

// Preflight verifies the engine is reachable before the pipeline starts.
func Preflight(ctx context.Context, client Client, timeout time.Duration) (string, error) {
	result, err := client.Execute(ctx, "SELECT @@VERSION", timeout)
	if err != nil {
		return "", apperrors.Wrap(err, "engine preflight failed")
	}
	return ParseScalar(result.Stdout), nil
}
