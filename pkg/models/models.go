package models

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/driver"
	"github.com/andrej220/stepagent/pkg/instruction"
	"github.com/andrej220/stepagent/pkg/jobdef"
)

// JobRequest asks an agent to run a job. A zero ExecutionUID is replaced by
// the receiver.
type JobRequest struct {
	ExecutionUID uuid.UUID  `json:"exuid" bson:"exuid"`
	Job          jobdef.Job `json:"job" bson:"job"`
}

// Validate checks the embedded job with the job definition rules.
func (r *JobRequest) Validate() error {
	if r.Job.ID == uuid.Nil {
		r.Job.ID = uuid.New()
	}
	return jobdef.Validate(&r.Job)
}

// InstructionMessage carries a cancellation signal for a running job.
type InstructionMessage struct {
	ExecutionUID uuid.UUID `json:"exuid" bson:"exuid"`
	Cancel       bool      `json:"cancel" bson:"cancel"`
	ForceCancel  bool      `json:"forceCancel" bson:"forceCancel"`
}

var ErrMissingExecutionUID = errors.New("missing execution uid")

func (m *InstructionMessage) Validate() error {
	if m.ExecutionUID == uuid.Nil {
		return ErrMissingExecutionUID
	}
	return nil
}

func (m InstructionMessage) Instruction() instruction.Instruction {
	return instruction.New(m.Cancel, m.ForceCancel)
}

type Response struct {
	ExecutionUID uuid.UUID `json:"exuid"`
}

type StepReport struct {
	Index       int                 `json:"index" bson:"index"`
	Description string              `json:"description" bson:"description"`
	Disposition string              `json:"disposition" bson:"disposition"`
	Invocation  *builder.Invocation `json:"invocation,omitempty" bson:"invocation,omitempty"`
	ExitCode    int                 `json:"exitCode" bson:"exitCode"`
	Signaled    bool                `json:"signaled,omitempty" bson:"signaled,omitempty"`
	Error       string              `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt   *time.Time          `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	Duration    time.Duration       `json:"durationNs" bson:"durationNs"`
	OnCancel    *StepReport         `json:"onCancel,omitempty" bson:"onCancel,omitempty"`
}

// JobReport is the published form of a driver.JobResult.
type JobReport struct {
	ExecutionUID uuid.UUID    `json:"exuid" bson:"exuid"`
	JobID        uuid.UUID    `json:"jobId" bson:"jobId"`
	JobName      string       `json:"jobName,omitempty" bson:"jobName,omitempty"`
	Agent        string       `json:"agent" bson:"agent"`
	Outcome      string       `json:"outcome" bson:"outcome"`
	Ran          int          `json:"ran" bson:"ran"`
	Skipped      int          `json:"skipped" bson:"skipped"`
	Steps        []StepReport `json:"steps" bson:"steps"`
	FinishedAt   time.Time    `json:"finishedAt" bson:"finishedAt"`
}

func NewJobReport(req JobRequest, agent string, res driver.JobResult) JobReport {
	ran, skipped := res.Counts()
	report := JobReport{
		ExecutionUID: req.ExecutionUID,
		JobID:        req.Job.ID,
		JobName:      req.Job.Name,
		Agent:        agent,
		Outcome:      res.Outcome.String(),
		Ran:          ran,
		Skipped:      skipped,
		Steps:        make([]StepReport, 0, len(res.Steps)),
		FinishedAt:   time.Now().UTC(),
	}
	for _, s := range res.Steps {
		report.Steps = append(report.Steps, stepReport(s))
	}
	return report
}

func stepReport(s driver.StepResult) StepReport {
	r := StepReport{
		Index:       s.Index,
		Description: s.Description,
		Disposition: s.Disposition.String(),
		Invocation:  s.Invocation,
		ExitCode:    s.Status.Code,
		Signaled:    s.Status.Signaled,
		Duration:    s.Duration,
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	if !s.Started.IsZero() {
		started := s.Started.UTC()
		r.StartedAt = &started
	}
	if s.OnCancel != nil {
		c := stepReport(*s.OnCancel)
		r.OnCancel = &c
	}
	return r
}
