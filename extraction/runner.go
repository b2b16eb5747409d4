package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RunnerConfig configures the helper-process runner. Helpers are small
// external tools (yt-dlp wrappers, a headless-browser driver) that print one
// JSON document on stdout.
type RunnerConfig struct {
	PythonPath string
	HelperPath string
	TempDir    string
}

type Runner struct {
	config RunnerConfig
	logger *logrus.Logger
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if _, err := os.Stat(cfg.HelperPath); os.IsNotExist(err) {
		return nil, pkgerrors.Wrapf(err, "helper directory does not exist: %s", cfg.HelperPath)
	}
	if cfg.TempDir != "" {
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			return nil, pkgerrors.Wrap(err, "create temp directory")
		}
	}
	return &Runner{config: cfg, logger: logrus.StandardLogger()}, nil
}

// Run executes a helper and unmarshals its stdout JSON into out.
func (r *Runner) Run(ctx context.Context, helper string, args map[string]string, out interface{}) error {
	helperPath := filepath.Join(r.config.HelperPath, helper)

	cmdArgs := []string{helperPath}
	for k, v := range args {
		if v != "" {
			cmdArgs = append(cmdArgs, "--"+k, v)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"helper": helper,
		"args":   args,
	}).Debug("Running extraction helper")

	cmd := exec.CommandContext(ctx, r.config.PythonPath, cmdArgs...)
	cmd.Dir = r.config.HelperPath
	if r.config.TempDir != "" {
		cmd.Env = append(os.Environ(), "TMPDIR="+r.config.TempDir)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.WithFields(logrus.Fields{
			"helper": helper,
			"stderr": stderr.String(),
		}).Error("Extraction helper failed")
		return pkgerrors.Wrapf(err, "%s failed (stderr: %s)", helper, stderr.String())
	}

	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return pkgerrors.Wrapf(err, "%s produced invalid JSON", helper)
	}
	return nil
}

func (r *Runner) TempDir() string {
	return r.config.TempDir
}
