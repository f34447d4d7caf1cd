// Package agent runs jobs received over Kafka or HTTP and reports their
// results.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/config"
	"github.com/andrej220/stepagent/pkg/driver"
	"github.com/andrej220/stepagent/pkg/executor"
	"github.com/andrej220/stepagent/pkg/instruction"
	"github.com/andrej220/stepagent/pkg/lg"
	"github.com/andrej220/stepagent/pkg/models"
	"github.com/andrej220/stepagent/pkg/workerpool"
)

var (
	ErrDuplicateExecution = errors.New("execution already submitted")
	ErrUnknownExecution   = errors.New("execution not active on this agent")
)

type Service struct {
	name     string
	os       builder.OSFamily
	engine   executor.Engine
	timeouts atomic.Pointer[config.DriverConfig]
	registry *instruction.Registry
	pool     *workerpool.Pool[models.JobRequest]
	sinks    []ReportSink
	logger   lg.Logger

	// base context of every job; cancelled only when shutdown runs out of time
	jobCtx    context.Context
	killJobs  context.CancelFunc
	active    sync.Map // execution id -> struct{}
	inflight  sync.WaitGroup
	submitted atomic.Int64
}

func New(cfg *config.AgentConfig, engine executor.Engine, logger lg.Logger, sinks ...ReportSink) (*Service, error) {
	if logger == nil {
		logger = lg.Discard
	}
	family, err := cfg.OSFamily()
	if err != nil {
		return nil, err
	}
	jobCtx, kill := context.WithCancel(lg.Attach(context.Background(), logger))
	s := &Service{
		name:     cfg.Service,
		os:       family,
		engine:   engine,
		registry: instruction.NewRegistry(),
		pool:     workerpool.NewPool[models.JobRequest](cfg.Workers),
		sinks:    sinks,
		logger:   logger,
		jobCtx:   jobCtx,
		killJobs: kill,
	}
	timeouts := cfg.Driver
	s.timeouts.Store(&timeouts)
	return s, nil
}

// UpdateTimeouts changes the driver timeouts used by jobs started afterwards.
func (s *Service) UpdateTimeouts(t config.DriverConfig) {
	s.timeouts.Store(&t)
	s.logger.Info("driver timeouts updated",
		lg.Duration("grace_period", t.GracePeriod),
		lg.Duration("cancel_timeout", t.CancelTimeout))
}

func (s *Service) driverOptions(logger lg.Logger) driver.Options {
	t := s.timeouts.Load()
	return driver.Options{
		OS:            s.os,
		GracePeriod:   t.GracePeriod,
		CancelTimeout: t.CancelTimeout,
		Logger:        logger,
	}
}

// Submit queues a job. A zero ExecutionUID is replaced with a new one, which
// is returned.
func (s *Service) Submit(req models.JobRequest) (uuid.UUID, error) {
	if req.ExecutionUID == uuid.Nil {
		req.ExecutionUID = uuid.New()
	}
	id := req.ExecutionUID.String()
	if _, loaded := s.active.LoadOrStore(id, struct{}{}); loaded {
		return req.ExecutionUID, fmt.Errorf("%w: %s", ErrDuplicateExecution, id)
	}
	s.registry.Open(id)
	s.inflight.Add(1)

	logger := s.logger.With(lg.String("exuid", id), lg.String("job", req.Job.Name))
	err := s.pool.Submit(workerpool.Job[models.JobRequest]{
		Payload: req,
		Ctx:     lg.Attach(s.jobCtx, logger),
		Fn:      s.execute,
		CleanupFunc: func() {
			s.registry.Close(id)
			s.active.Delete(id)
			s.inflight.Done()
		},
	})
	if err != nil {
		s.registry.Close(id)
		s.active.Delete(id)
		s.inflight.Done()
		return req.ExecutionUID, err
	}
	s.submitted.Add(1)
	logger.Info("job queued", lg.Int("steps", len(req.Job.Steps)))
	return req.ExecutionUID, nil
}

// Instruct routes a cancellation signal to a queued or running execution and
// reports whether it escalated the execution's current instruction.
// Executions this agent does not hold are an ErrUnknownExecution.
func (s *Service) Instruct(msg models.InstructionMessage) (bool, error) {
	id := msg.ExecutionUID.String()
	if _, ok := s.active.Load(id); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownExecution, id)
	}
	changed, err := s.registry.Deliver(id, msg.Instruction())
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownExecution, id)
	}
	s.logger.Info("instruction received",
		lg.String("exuid", id),
		lg.String("instruction", msg.Instruction().String()),
		lg.Bool("changed", changed))
	return changed, nil
}

func (s *Service) execute(ctx context.Context, req models.JobRequest) error {
	id := req.ExecutionUID.String()
	logger := lg.FromContext(ctx)

	var res driver.JobResult
	specs, err := req.Job.Specs()
	if err != nil {
		logger.Error("job rejected", lg.Err(err))
		res = rejected(req, err)
	} else {
		d := driver.New(s.engine, s.driverOptions(logger))
		res = d.Run(ctx, specs, s.registry.Open(id))
	}

	report := models.NewJobReport(req, s.name, res)
	return s.publish(ctx, report)
}

// Reject publishes a failed report for a job that will not run.
func (s *Service) Reject(ctx context.Context, req models.JobRequest, reason error) error {
	s.logger.Warn("job rejected", lg.String("exuid", req.ExecutionUID.String()), lg.String("job", req.Job.Name), lg.Err(reason))
	return s.publish(ctx, models.NewJobReport(req, s.name, rejected(req, reason)))
}

// rejected is the result of a job whose steps could not be materialised.
func rejected(req models.JobRequest, err error) driver.JobResult {
	res := driver.JobResult{Outcome: builder.Failure, Steps: make([]driver.StepResult, len(req.Job.Steps))}
	for i, step := range req.Job.Steps {
		res.Steps[i] = driver.StepResult{Index: i, Description: step.Description, Disposition: driver.NotRun}
	}
	if len(res.Steps) > 0 {
		res.Steps[0].Err = &builder.ConfigError{Field: "job", Reason: err.Error()}
	}
	return res
}

func (s *Service) publish(ctx context.Context, report models.JobReport) error {
	// results are delivered even when the job context was cancelled
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Save(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running returns the number of executions that are queued or running.
func (s *Service) Running() int {
	n := 0
	s.active.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Shutdown asks every active execution to cancel cooperatively and waits for
// them. When ctx expires first, remaining executions are force cancelled.
func (s *Service) Shutdown(ctx context.Context) {
	s.active.Range(func(key, _ any) bool {
		_, _ = s.registry.Deliver(key.(string), instruction.Cancel())
		return true
	})
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out, force cancelling jobs", lg.Int("running", s.Running()))
		s.killJobs()
		<-done
	}
	s.pool.Stop()
	s.killJobs()
}
