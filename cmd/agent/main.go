// Command agent runs step jobs received over Kafka or HTTP.
//
//	agent [-debug] [-log-format json|console] [config.yaml | mongodb://host/db]
//
// A mongodb:// argument loads the configuration document "<service>" from the
// "config" collection of that database.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andrej220/stepagent/internal/agent"
	"github.com/andrej220/stepagent/pkg/config"
	"github.com/andrej220/stepagent/pkg/consumer"
	"github.com/andrej220/stepagent/pkg/lg"
	"github.com/andrej220/stepagent/pkg/models"
	"github.com/andrej220/stepagent/pkg/persistence"
	"github.com/andrej220/stepagent/pkg/reporter"
)

const (
	SERVICENAME    = "stepagent"
	CONFIGFILENAME = "config.yaml"
)

func main() {
	cfg, args := lg.NewConfigFromFlags(SERVICENAME, os.Args[1:])
	logger := lg.New(cfg)
	defer logger.Sync()

	source := CONFIGFILENAME
	if len(args) > 0 {
		source = args[0]
	}
	if err := run(source, logger); err != nil {
		logger.Error("agent failed", lg.Err(err))
		os.Exit(1)
	}
}

func openStore(source string) (config.Config, error) {
	if !strings.HasPrefix(source, "mongodb://") && !strings.HasPrefix(source, "mongodb+srv://") {
		return config.NewStore(config.FileStore, &config.FileConfig{Path: source})
	}
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid mongo config uri: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		db = SERVICENAME
	}
	return config.NewStore(config.MongoStore, &config.MongoConfig{URI: source, DBName: db, CollName: "config", ID: SERVICENAME})
}

func run(source string, logger lg.Logger) error {
	store, err := openStore(source)
	if err != nil {
		return err
	}
	cfg, err := config.LoadAgent(store)
	if err != nil {
		return err
	}
	logger = logger.With(lg.String("agent", cfg.Service))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, closer, err := agent.NewEngine(cfg.Engine, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	sinks := []agent.ReportSink{agent.FileSink{Dir: cfg.Results.Dir}}
	if cfg.Results.MongoEnabled() {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		results, err := persistence.NewMongoStore(connectCtx, cfg.Results.Mongo.URI, cfg.Results.Mongo.DBName, cfg.Results.Mongo.CollName)
		cancel()
		if err != nil {
			return err
		}
		defer results.Close(context.Background())
		sinks = append(sinks, agent.MongoSink{Store: results})
	}

	opts := agent.RunOptions{Store: store}
	if cfg.Kafka.Enabled() {
		rep := reporter.New(cfg.Kafka.Brokers, cfg.Kafka.ResultTopic, logger)
		defer rep.Close()
		sinks = append(sinks, agent.SinkFunc(rep.Publish))

		jobs := consumer.NewConsumer[models.JobRequest](consumer.Config{
			Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.JobTopic, GroupID: cfg.Kafka.GroupID,
		})
		defer jobs.Close()
		// every agent instance must see every instruction
		instructions := consumer.NewConsumer[models.InstructionMessage](consumer.Config{
			Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.InstructionTopic, GroupID: cfg.Kafka.GroupID + "-" + hostname(),
		})
		defer instructions.Close()
		opts.Jobs = jobs
		opts.Instructions = instructions
	}

	svc, err := agent.New(cfg, engine, logger, sinks...)
	if err != nil {
		return err
	}
	opts.Server = agent.ServerConfig(cfg, logger)

	logger.Info("starting service",
		lg.Int("port", cfg.Port),
		lg.Int("workers", cfg.Workers),
		lg.String("engine", cfg.Engine.Kind),
		lg.Bool("kafka", cfg.Kafka.Enabled()))
	return svc.Run(ctx, opts)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
