package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/andrej220/stepagent/internal/serverutil"
	"github.com/andrej220/stepagent/pkg/config"
	"github.com/andrej220/stepagent/pkg/config/configstore"
	"github.com/andrej220/stepagent/pkg/executor"
	"github.com/andrej220/stepagent/pkg/lg"
	"github.com/andrej220/stepagent/pkg/models"
)

const shutdownTimeout = 2 * time.Minute

// Source delivers decoded messages to handle until ctx is done. The Kafka
// consumer is one.
type Source[T any] interface {
	Run(ctx context.Context, handle func(context.Context, T) error) error
}

type RunOptions struct {
	Server       serverutil.ServerConfig
	Jobs         Source[models.JobRequest]         // optional
	Instructions Source[models.InstructionMessage] // optional
	// Store is reloaded on change and the new driver timeouts applied.
	Store configstore.ConfigStore
}

// Run serves HTTP and consumes the configured sources until ctx is done,
// then shuts the service down.
func (s *Service) Run(ctx context.Context, opts RunOptions) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serverutil.RunServer(gctx, s.Handler(), opts.Server)
	})
	if opts.Jobs != nil {
		g.Go(func() error {
			return opts.Jobs.Run(gctx, s.consumeJob)
		})
	}
	if opts.Instructions != nil {
		g.Go(func() error {
			return opts.Instructions.Run(gctx, func(_ context.Context, msg models.InstructionMessage) error {
				if err := msg.Validate(); err != nil {
					return err
				}
				// every agent sees every instruction; most are for other agents
				if _, err := s.Instruct(msg); err != nil && !errors.Is(err, ErrUnknownExecution) {
					return err
				}
				return nil
			})
		})
	}
	if w, ok := opts.Store.(configstore.Watcher); ok {
		if err := s.WatchConfig(lg.Attach(gctx, s.logger), opts.Store, w); err != nil {
			s.logger.Warn("config watch disabled", lg.Err(err))
		}
	}

	err := g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.Shutdown(shutdownCtx)
	return err
}

// consumeJob queues a job read from the job topic. The message is already
// committed, so a job that cannot be queued is reported as failed instead of
// being dropped. A duplicate is only logged: the copy already queued reports
// for that execution.
func (s *Service) consumeJob(ctx context.Context, req models.JobRequest) error {
	if req.ExecutionUID == uuid.Nil {
		req.ExecutionUID = uuid.New()
	}
	err := req.Validate()
	if err == nil {
		if _, err = s.Submit(req); err == nil || errors.Is(err, ErrDuplicateExecution) {
			return err
		}
	}
	err = fmt.Errorf("job %s rejected: %w", req.ExecutionUID, err)
	return errors.Join(err, s.Reject(ctx, req, err))
}

// WatchConfig reloads the agent config whenever w reports a change. Only the
// driver timeouts take effect without a restart.
func (s *Service) WatchConfig(ctx context.Context, store configstore.ConfigStore, w configstore.Watcher) error {
	return w.Watch(ctx, func() {
		cfg, err := config.LoadAgent(store)
		if err != nil {
			s.logger.Error("config reload failed", lg.Err(err))
			return
		}
		s.UpdateTimeouts(cfg.Driver)
	})
}

// NewEngine builds the engine the config selects. The returned closer
// releases remote connections and is never nil.
func NewEngine(cfg config.EngineConfig, logger lg.Logger) (executor.Engine, io.Closer, error) {
	switch cfg.Kind {
	case "", "local":
		return executor.NewLocalEngine(logger), io.NopCloser(nil), nil
	case "ssh":
		clientCfg, err := cfg.SSH.Options().ClientConfig()
		if err != nil {
			return nil, nil, err
		}
		client, err := executor.NewResilientClient(cfg.SSH.Host, clientCfg)
		if err != nil {
			return nil, nil, err
		}
		return executor.NewSSHEngine(client, logger), client, nil
	}
	return nil, nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
}

func ServerConfig(cfg *config.AgentConfig, logger lg.Logger) serverutil.ServerConfig {
	sc := serverutil.DefaultServerConfig()
	sc.Port = strconv.Itoa(cfg.Port)
	sc.Logger = logger
	return sc
}
