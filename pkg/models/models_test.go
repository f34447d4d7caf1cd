package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/driver"
	"github.com/andrej220/stepagent/pkg/executor"
	"github.com/andrej220/stepagent/pkg/jobdef"
)

func TestJobRequestValidate(t *testing.T) {
	req := JobRequest{Job: jobdef.Job{WorkDir: "/src", Steps: []jobdef.Step{{Command: jobdef.Command{Program: "make"}}}}}
	require.NoError(t, req.Validate())
	assert.NotEqual(t, uuid.Nil, req.Job.ID)

	bad := JobRequest{Job: jobdef.Job{WorkDir: "/src"}}
	assert.Error(t, bad.Validate())
}

func TestInstructionMessage(t *testing.T) {
	var m InstructionMessage
	require.NoError(t, json.Unmarshal([]byte(`{"forceCancel":true}`), &m))
	assert.ErrorIs(t, m.Validate(), ErrMissingExecutionUID)

	ins := m.Instruction()
	assert.True(t, ins.ShouldCancel(), "force implies cancel")
	assert.True(t, ins.ShouldForceCancel())
}

func TestNewJobReport(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	inv := builder.Invocation{Executable: "make", Argv: []string{"test"}, Dir: "/src"}
	cleanup := driver.StepResult{Index: 1, Description: "cleanup", Disposition: driver.Completed, Started: started}
	res := driver.JobResult{
		Outcome: builder.Cancelled,
		Steps: []driver.StepResult{
			{Index: 0, Description: "build", Disposition: driver.Completed, Invocation: &inv, Started: started, Duration: time.Second},
			{Index: 1, Description: "test", Disposition: driver.Cancelled, Status: executor.ExitStatus{Code: -1, Signaled: true}, Started: started, OnCancel: &cleanup},
			{Index: 2, Description: "deploy", Disposition: driver.NotRun},
			{Index: 3, Description: "bad", Disposition: driver.Completed, Status: executor.ExitStatus{Code: -1}, Err: errors.New("exec: not found"), Started: started},
		},
	}
	req := JobRequest{ExecutionUID: uuid.New(), Job: jobdef.Job{ID: uuid.New(), Name: "ci"}}

	report := NewJobReport(req, "agent-1", res)

	assert.Equal(t, req.ExecutionUID, report.ExecutionUID)
	assert.Equal(t, "ci", report.JobName)
	assert.Equal(t, builder.Cancelled.String(), report.Outcome)
	assert.Equal(t, 3, report.Ran)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Steps, 4)

	assert.Equal(t, "completed", report.Steps[0].Disposition)
	assert.Equal(t, &inv, report.Steps[0].Invocation)
	assert.Equal(t, "cancelled", report.Steps[1].Disposition)
	assert.True(t, report.Steps[1].Signaled)
	require.NotNil(t, report.Steps[1].OnCancel)
	assert.Equal(t, "cleanup", report.Steps[1].OnCancel.Description)
	assert.Nil(t, report.Steps[2].StartedAt)
	assert.Equal(t, "not-run", report.Steps[2].Disposition)
	assert.Equal(t, "exec: not found", report.Steps[3].Error)
	assert.Equal(t, -1, report.Steps[3].ExitCode)
}
