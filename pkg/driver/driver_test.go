package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/executor"
	"github.com/andrej220/stepagent/pkg/instruction"
)

func step(t *testing.T, program string, cond builder.RunCondition) builder.CommandSpec {
	t.Helper()
	s, err := builder.NewCommandSpec(program, nil, "/work", builder.WithCondition(cond), builder.WithDescription(program))
	require.NoError(t, err)
	return s
}

func withCleanup(t *testing.T, s builder.CommandSpec, program string) builder.CommandSpec {
	t.Helper()
	c, err := builder.NewCancelSpec(program, nil, "/work", builder.WithDescription(program))
	require.NoError(t, err)
	return s.WithOnCancel(c)
}

func testOptions() Options {
	return Options{OS: builder.Unix, GracePeriod: 50 * time.Millisecond, CancelTimeout: time.Second}
}

func waitStarted(t *testing.T, e *fakeEngine, name string) {
	t.Helper()
	for {
		select {
		case got := <-e.started:
			if got == name {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never started", name)
		}
	}
}

func runAsync(d *Driver, ctx context.Context, specs []builder.CommandSpec, src instruction.Source) <-chan JobResult {
	out := make(chan JobResult, 1)
	go func() { out <- d.Run(ctx, specs, src) }()
	return out
}

func await(t *testing.T, ch <-chan JobResult) JobResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
		return JobResult{}
	}
}

func TestRunConditionsFollowAggregateOutcome(t *testing.T) {
	e := newFakeEngine(map[string]behavior{"compile": {code: 2}})
	specs := []builder.CommandSpec{
		step(t, "compile", builder.OnSuccess),
		step(t, "report-failure", builder.OnFailure),
		step(t, "publish", builder.OnSuccess),
		step(t, "archive-logs", builder.Always),
	}

	res := New(e, testOptions()).Run(context.Background(), specs, nil)

	assert.Equal(t, builder.Failure, res.Outcome)
	assert.Equal(t, []string{"compile", "report-failure", "archive-logs"}, e.programs())
	assert.Equal(t, Completed, res.Steps[0].Disposition)
	assert.Equal(t, 2, res.Steps[0].Status.Code)
	assert.Equal(t, Completed, res.Steps[1].Disposition)
	assert.Equal(t, NotRun, res.Steps[2].Disposition)
	assert.Equal(t, Completed, res.Steps[3].Disposition)
}

func TestOnFailureStepsSkippedWhilePassing(t *testing.T) {
	e := newFakeEngine(nil)
	specs := []builder.CommandSpec{
		step(t, "compile", builder.OnSuccess),
		step(t, "report-failure", builder.OnFailure),
		step(t, "publish", builder.OnSuccess),
	}

	res := New(e, testOptions()).Run(context.Background(), specs, nil)

	assert.Equal(t, builder.Success, res.Outcome)
	assert.Equal(t, []string{"compile", "publish"}, e.programs())
	assert.Equal(t, NotRun, res.Steps[1].Disposition)
	ran, skipped := res.Counts()
	assert.Equal(t, 2, ran)
	assert.Equal(t, 1, skipped)
}

func TestLaunchErrorFailsStepAndJobContinues(t *testing.T) {
	e := newFakeEngine(map[string]behavior{"missing-tool": {launchErr: errNotFound}})
	specs := []builder.CommandSpec{
		step(t, "missing-tool", builder.OnSuccess),
		step(t, "publish", builder.OnSuccess),
		step(t, "notify", builder.OnFailure),
	}

	res := New(e, testOptions()).Run(context.Background(), specs, nil)

	assert.Equal(t, builder.Failure, res.Outcome)
	first := res.Steps[0]
	assert.Equal(t, Completed, first.Disposition)
	assert.False(t, first.Passed())
	var le *executor.LaunchError
	assert.True(t, errors.As(first.Err, &le))
	assert.Equal(t, NotRun, res.Steps[1].Disposition)
	assert.Equal(t, Completed, res.Steps[2].Disposition)
}

func TestConfigErrorStopsJobBeforeExecution(t *testing.T) {
	e := newFakeEngine(nil)
	specs := []builder.CommandSpec{
		step(t, "compile", builder.OnSuccess),
		{},
	}

	res := New(e, testOptions()).Run(context.Background(), specs, nil)

	assert.Equal(t, builder.Failure, res.Outcome)
	assert.Empty(t, e.programs())
	assert.NoError(t, res.Steps[0].Err)
	var ce *builder.ConfigError
	assert.True(t, errors.As(res.Steps[1].Err, &ce))
	for _, s := range res.Steps {
		assert.Equal(t, NotRun, s.Disposition)
	}
}

func TestCooperativeCancelRunsCleanupFirst(t *testing.T) {
	e := newFakeEngine(map[string]behavior{"start-server": {block: true}})
	specs := []builder.CommandSpec{
		withCleanup(t, step(t, "start-server", builder.OnSuccess), "stop-server"),
		step(t, "archive-logs", builder.Always),
	}
	signals := instruction.NewChannel()

	done := runAsync(New(e, testOptions()), context.Background(), specs, signals)
	waitStarted(t, e, "start-server")
	signals.Set(instruction.Cancel())
	res := await(t, done)

	assert.Equal(t, builder.Cancelled, res.Outcome)
	assert.Equal(t, []string{"start-server", "stop-server"}, e.programs())
	assert.Equal(t, []bool{false}, e.process("start-server").terms())

	server := res.Steps[0]
	assert.Equal(t, Cancelled, server.Disposition)
	require.NotNil(t, server.OnCancel)
	assert.Equal(t, Completed, server.OnCancel.Disposition)
	assert.True(t, server.OnCancel.Passed())
	assert.Equal(t, NotRun, res.Steps[1].Disposition)

	timeline := res.Timeline()
	require.Len(t, timeline, 2)
	assert.Equal(t, "stop-server", timeline[0].Description)
	assert.Equal(t, Completed, timeline[0].Disposition)
	assert.Equal(t, "start-server", timeline[1].Description)
	assert.Equal(t, Cancelled, timeline[1].Disposition)
}

func TestForceCancelSkipsCleanup(t *testing.T) {
	e := newFakeEngine(map[string]behavior{"start-server": {block: true}})
	specs := []builder.CommandSpec{
		withCleanup(t, step(t, "start-server", builder.OnSuccess), "stop-server"),
	}
	signals := instruction.NewChannel()

	done := runAsync(New(e, testOptions()), context.Background(), specs, signals)
	waitStarted(t, e, "start-server")
	signals.Set(instruction.ForceCancel())
	res := await(t, done)

	assert.Equal(t, builder.Cancelled, res.Outcome)
	assert.Equal(t, []string{"start-server"}, e.programs())
	assert.Equal(t, []bool{true}, e.process("start-server").terms())
	assert.Equal(t, Cancelled, res.Steps[0].Disposition)
	assert.Nil(t, res.Steps[0].OnCancel)
}

func TestCooperativeCancelKillsAfterGracePeriod(t *testing.T) {
	e := newFakeEngine(map[string]behavior{"stubborn": {block: true, ignoreTerm: true}})
	specs := []builder.CommandSpec{withCleanup(t, step(t, "stubborn", builder.OnSuccess), "cleanup")}
	signals := instruction.NewChannel()

	done := runAsync(New(e, testOptions()), context.Background(), specs, signals)
	waitStarted(t, e, "stubborn")
	signals.Set(instruction.Cancel())
	res := await(t, done)

	assert.Equal(t, []bool{false, true}, e.process("stubborn").terms())
	require.NotNil(t, res.Steps[0].OnCancel)
	assert.Equal(t, Completed, res.Steps[0].OnCancel.Disposition)
	assert.Equal(t, Cancelled, res.Steps[0].Disposition)
}

func TestCleanupAbortedOnTimeout(t *testing.T) {
	e := newFakeEngine(map[string]behavior{
		"start-server": {block: true},
		"stop-server":  {block: true, ignoreTerm: true},
	})
	specs := []builder.CommandSpec{withCleanup(t, step(t, "start-server", builder.OnSuccess), "stop-server")}
	signals := instruction.NewChannel()
	opts := testOptions()
	opts.CancelTimeout = 30 * time.Millisecond

	done := runAsync(New(e, opts), context.Background(), specs, signals)
	waitStarted(t, e, "start-server")
	signals.Set(instruction.Cancel())
	res := await(t, done)

	require.NotNil(t, res.Steps[0].OnCancel)
	assert.Equal(t, Cancelled, res.Steps[0].OnCancel.Disposition)
	assert.Equal(t, []bool{true}, e.process("stop-server").terms())
	assert.Equal(t, Cancelled, res.Steps[0].Disposition)
}

func TestForceCancelDuringCleanup(t *testing.T) {
	e := newFakeEngine(map[string]behavior{
		"start-server": {block: true},
		"stop-server":  {block: true},
	})
	specs := []builder.CommandSpec{withCleanup(t, step(t, "start-server", builder.OnSuccess), "stop-server")}
	signals := instruction.NewChannel()

	done := runAsync(New(e, testOptions()), context.Background(), specs, signals)
	waitStarted(t, e, "start-server")
	signals.Set(instruction.Cancel())
	waitStarted(t, e, "stop-server")
	signals.Set(instruction.ForceCancel())
	res := await(t, done)

	assert.Equal(t, []bool{true}, e.process("stop-server").terms())
	require.NotNil(t, res.Steps[0].OnCancel)
	assert.Equal(t, Cancelled, res.Steps[0].OnCancel.Disposition)
	assert.Equal(t, builder.Cancelled, res.Outcome)
}

func TestCleanupConditionUsesAggregateOutcome(t *testing.T) {
	e := newFakeEngine(map[string]behavior{"flaky": {code: 1}, "deploy": {block: true}})
	cleanup, err := builder.NewCancelSpec("rollback", nil, "/work", builder.WithCondition(builder.OnSuccess))
	require.NoError(t, err)
	specs := []builder.CommandSpec{
		step(t, "flaky", builder.OnSuccess),
		step(t, "deploy", builder.Always).WithOnCancel(cleanup),
	}
	signals := instruction.NewChannel()

	done := runAsync(New(e, testOptions()), context.Background(), specs, signals)
	waitStarted(t, e, "deploy")
	signals.Set(instruction.Cancel())
	res := await(t, done)

	assert.Equal(t, []string{"flaky", "deploy"}, e.programs())
	assert.Nil(t, res.Steps[1].OnCancel)
	assert.Equal(t, Cancelled, res.Steps[1].Disposition)
}

func TestCancelBeforeFirstStep(t *testing.T) {
	e := newFakeEngine(nil)
	specs := []builder.CommandSpec{step(t, "compile", builder.Always)}

	res := New(e, testOptions()).Run(context.Background(), specs, instruction.Static(instruction.Cancel()))

	assert.Equal(t, builder.Cancelled, res.Outcome)
	assert.Empty(t, e.programs())
	assert.Equal(t, NotRun, res.Steps[0].Disposition)
	assert.Empty(t, res.Timeline())
}

func TestCancelBetweenStepsStopsBeforeNextStep(t *testing.T) {
	e := newFakeEngine(nil)
	specs := []builder.CommandSpec{step(t, "compile", builder.Always), step(t, "package", builder.Always)}
	// loads 1 and 2 cover the check before compile and its run; the cancel
	// lands once compile has finished and before package starts
	signals := &scriptedSource{load: func(n int) instruction.Instruction {
		if n >= 3 {
			return instruction.Cancel()
		}
		return instruction.None()
	}}

	res := New(e, testOptions()).Run(context.Background(), specs, signals)

	assert.Equal(t, builder.Cancelled, res.Outcome)
	assert.Equal(t, []string{"compile"}, e.programs())
	assert.Equal(t, Completed, res.Steps[0].Disposition)
	assert.True(t, res.Steps[0].Passed())
	assert.Equal(t, NotRun, res.Steps[1].Disposition)
	assert.Empty(t, e.process("compile").terms())
}

func TestCancelAfterExitDoesNotSignalProcess(t *testing.T) {
	e := newFakeEngine(nil)
	specs := []builder.CommandSpec{withCleanup(t, step(t, "compile", builder.Always), "cleanup")}
	signals := &scriptedSource{load: func(n int) instruction.Instruction {
		if n == 1 {
			return instruction.None()
		}
		// the cancel shows up only after compile has been reaped
		select {
		case <-e.process("compile").waited:
		case <-time.After(2 * time.Second):
		}
		time.Sleep(20 * time.Millisecond)
		return instruction.Cancel()
	}}

	res := New(e, testOptions()).Run(context.Background(), specs, signals)

	assert.Equal(t, builder.Success, res.Outcome)
	assert.Equal(t, []string{"compile"}, e.programs())
	assert.Equal(t, Completed, res.Steps[0].Disposition)
	assert.Nil(t, res.Steps[0].OnCancel)
	assert.Empty(t, e.process("compile").terms())
}

func TestContextCancelIsForced(t *testing.T) {
	e := newFakeEngine(map[string]behavior{"start-server": {block: true}})
	specs := []builder.CommandSpec{withCleanup(t, step(t, "start-server", builder.OnSuccess), "stop-server")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runAsync(New(e, testOptions()), ctx, specs, instruction.NewChannel())
	waitStarted(t, e, "start-server")
	cancel()
	res := await(t, done)

	assert.Equal(t, builder.Cancelled, res.Outcome)
	assert.Equal(t, []string{"start-server"}, e.programs())
	assert.Equal(t, []bool{true}, e.process("start-server").terms())
}

func TestWindowsInvocations(t *testing.T) {
	e := newFakeEngine(nil)
	s, err := builder.NewCommandSpec("scripts/build.bat", []string{"release"}, "C:/repo")
	require.NoError(t, err)
	opts := testOptions()
	opts.OS = builder.Windows

	res := New(e, opts).Run(context.Background(), []builder.CommandSpec{s}, nil)

	require.NotNil(t, res.Steps[0].Invocation)
	assert.Equal(t, builder.Invocation{Executable: "cmd", Argv: []string{"/c", `scripts\build.bat`, "release"}, Dir: "C:/repo"}, *res.Steps[0].Invocation)
}
