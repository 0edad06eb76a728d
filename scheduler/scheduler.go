// Package scheduler is the opaque submit/query/cancel interface to the
// HPC batch scheduler (spec.md §6). It is intentionally thin: nothing in
// the control plane depends on scheduler-specific features beyond these
// three operations. Grounded on the subprocess-with-timeout idiom in
// jorge-barreto-orc's dispatch package and the teacher's exec.Command
// wrapping in utils/git.go.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// JobStatus is the scheduler-reported state of a single submitted job.
type JobStatus struct {
	JobID string
	State string // scheduler-native token, e.g. "RUNNING", "PENDING"
}

// Scheduler is the three-operation contract every queue-manager and
// submit-service call goes through.
type Scheduler interface {
	// Submit runs the scheduler's submit command against scriptPath and
	// returns the opaque job identifier it reports.
	Submit(ctx context.Context, scriptPath string) (jobID string, err error)
	// Query returns the current user's active job count and per-job states.
	Query(ctx context.Context, user string) (active int, jobs []JobStatus, err error)
	// Cancel asks the scheduler to cancel a running or pending job.
	Cancel(ctx context.Context, jobID string) error
}

// CLIScheduler shells out to configurable command templates, so it is
// Slurm-shaped by default (sbatch/squeue/scancel) without any Slurm-
// specific behavior baked into the control plane itself.
type CLIScheduler struct {
	SubmitCmd []string // e.g. ["sbatch", "{script}"]
	QueryCmd  []string // e.g. ["squeue", "-u", "{user}", "-h", "-o", "%i %T"]
	CancelCmd []string // e.g. ["scancel", "{job_id}"]

	SubmitTimeout time.Duration
	QueryTimeout  time.Duration

	// ParseSubmitOutput extracts the job ID from the submit command's
	// stdout. Defaults to parseSlurmSubmitOutput if nil.
	ParseSubmitOutput func(stdout string) (string, error)
}

// NewCLIScheduler builds a CLIScheduler from configured command templates
// and timeouts.
func NewCLIScheduler(submitCmd, queryCmd, cancelCmd []string, submitTimeout, queryTimeout time.Duration) *CLIScheduler {
	return &CLIScheduler{
		SubmitCmd:     submitCmd,
		QueryCmd:      queryCmd,
		CancelCmd:     cancelCmd,
		SubmitTimeout: submitTimeout,
		QueryTimeout:  queryTimeout,
	}
}

func (c *CLIScheduler) Submit(ctx context.Context, scriptPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, nonZero(c.SubmitTimeout, 60*time.Second))
	defer cancel()

	args := substitute(c.SubmitCmd, map[string]string{"script": scriptPath})
	stdout, stderr, err := run(ctx, args)
	if err != nil {
		return "", fmt.Errorf("scheduler submit failed: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}

	parse := c.ParseSubmitOutput
	if parse == nil {
		parse = parseSlurmSubmitOutput
	}
	jobID, err := parse(stdout)
	if err != nil {
		return "", fmt.Errorf("parse submit output %q: %w", stdout, err)
	}
	return jobID, nil
}

func (c *CLIScheduler) Query(ctx context.Context, user string) (int, []JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, nonZero(c.QueryTimeout, 30*time.Second))
	defer cancel()

	args := substitute(c.QueryCmd, map[string]string{"user": user})
	stdout, stderr, err := run(ctx, args)
	if err != nil {
		return 0, nil, fmt.Errorf("scheduler query failed: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}

	jobs := parseSlurmQueryOutput(stdout)
	return len(jobs), jobs, nil
}

func (c *CLIScheduler) Cancel(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, nonZero(c.SubmitTimeout, 60*time.Second))
	defer cancel()

	args := substitute(c.CancelCmd, map[string]string{"job_id": jobID})
	_, stderr, err := run(ctx, args)
	if err != nil {
		return fmt.Errorf("scheduler cancel failed: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}
	return nil
}

func run(ctx context.Context, args []string) (stdout, stderr string, err error) {
	if len(args) == 0 {
		return "", "", fmt.Errorf("empty command template")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return outBuf.String(), errBuf.String(), fmt.Errorf("timed out: %w", ctx.Err())
	}
	return outBuf.String(), errBuf.String(), err
}

func substitute(template []string, vars map[string]string) []string {
	out := make([]string, len(template))
	for i, tok := range template {
		for k, v := range vars {
			tok = strings.ReplaceAll(tok, "{"+k+"}", v)
		}
		out[i] = tok
	}
	return out
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// parseSlurmSubmitOutput extracts the numeric job ID from sbatch's
// "Submitted batch job 12345" stdout line.
func parseSlurmSubmitOutput(stdout string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(stdout))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty submit output")
	}
	last := fields[len(fields)-1]
	if _, err := strconv.Atoi(last); err != nil {
		return "", fmt.Errorf("no numeric job id found in %q", stdout)
	}
	return last, nil
}

// parseSlurmQueryOutput parses squeue's "-h -o '%i %T'" format: one job
// per line, "<id> <state>".
func parseSlurmQueryOutput(stdout string) []JobStatus {
	var jobs []JobStatus
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		jobs = append(jobs, JobStatus{JobID: fields[0], State: fields[1]})
	}
	return jobs
}
