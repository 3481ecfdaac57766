// Package jobs runs background subprocesses and records their lifecycle in
// the job_info table. The job subsystem is a separate component from the
// authorization core; nothing here participates in policy decisions.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusSubmitted Status = "Submitted"
	StatusRunning   Status = "Running"
	StatusFinished  Status = "Finished"
	StatusErrored   Status = "Errored"
)

// ErrNotFound is returned when no job exists with a requested id.
var ErrNotFound = errors.New("job not found")

// Job is one recorded subprocess execution. Result holds captured stdout on
// success and captured stderr when the command exits non-zero; Error is set
// only when the command could not run at all.
type Job struct {
	ID         string `json:"id"`
	Status     Status `json:"status"`
	Result     string `json:"result"`
	Error      string `json:"error"`
	CreateTime string `json:"create_time"`
	UpdateTime string `json:"update_time"`
}

// Command describes a subprocess to run.
type Command struct {
	Program string
	Args    []string
	Env     []string
	Dir     string
}

// Runner executes commands and persists their state. It shares the ACL
// store's database file through the job_info table.
type Runner struct {
	db  *sql.DB
	log *slog.Logger
}

// NewRunner creates a runner over an already-migrated database handle.
func NewRunner(db *sql.DB, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{db: db, log: log}
}

// Submit records the job and starts it in the background, returning the
// assigned id immediately.
func (r *Runner) Submit(ctx context.Context, cmd Command) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_info (id, status, create_time, update_time) VALUES (?, ?, ?, ?)`,
		id, string(StatusSubmitted), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("recording job: %w", err)
	}
	go r.run(id, cmd)
	return id, nil
}

// Load returns the recorded state of a job.
func (r *Runner) Load(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, status, result, error, create_time, update_time FROM job_info WHERE id = ?`, id)
	var j Job
	var status string
	err := row.Scan(&j.ID, &status, &j.Result, &j.Error, &j.CreateTime, &j.UpdateTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	j.Status = Status(status)
	return &j, nil
}

// Wait polls until the job reaches a terminal state or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string, poll time.Duration) (*Job, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		j, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if j.Status == StatusFinished || j.Status == StatusErrored {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) run(id string, cmd Command) {
	r.setStatus(id, StatusRunning, "", "")

	c := exec.Command(cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = cmd.Env
	}
	out, err := c.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit still finishes the job; stderr is the result.
			r.setStatus(id, StatusFinished, string(exitErr.Stderr), "")
			return
		}
		r.log.Error("job failed to run", "job_id", id, "error", err)
		r.setStatus(id, StatusErrored, "", err.Error())
		return
	}
	r.setStatus(id, StatusFinished, string(out), "")
}

func (r *Runner) setStatus(id string, status Status, result, errMsg string) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.Exec(
		`UPDATE job_info SET status = ?, result = ?, error = ?, update_time = ? WHERE id = ?`,
		string(status), result, errMsg, now, id,
	)
	if err != nil {
		r.log.Error("updating job status", "job_id", id, "status", string(status), "error", err)
	}
}
