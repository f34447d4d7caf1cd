package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/config/configstore"
	"github.com/andrej220/stepagent/pkg/executor"
)

const (
	DefaultPort      = 8080
	DefaultWorkers   = 4
	DefaultResultDir = "results"

	DefaultJobTopic         = "stepagent.jobs"
	DefaultInstructionTopic = "stepagent.instructions"
	DefaultResultTopic      = "stepagent.results"
)

// AgentConfig is the agent service configuration document.
type AgentConfig struct {
	Service string        `yaml:"service" json:"service" bson:"service" validate:"required"`
	Port    int           `yaml:"port" json:"port" bson:"port" validate:"min=1,max=65535"`
	Workers int           `yaml:"workers" json:"workers" bson:"workers" validate:"min=1,max=64"`
	// OS must not be windows with the ssh engine.
	OS      string        `yaml:"os" json:"os" bson:"os" validate:"omitempty,oneof=host unix windows"`
	Kafka   KafkaConfig   `yaml:"kafka" json:"kafka" bson:"kafka"`
	Engine  EngineConfig  `yaml:"engine" json:"engine" bson:"engine"`
	Driver  DriverConfig  `yaml:"driver" json:"driver" bson:"driver"`
	Results ResultsConfig `yaml:"results" json:"results" bson:"results"`
}

// KafkaConfig is optional; without brokers the agent only accepts jobs over HTTP.
type KafkaConfig struct {
	Brokers          []string `yaml:"brokers" json:"brokers" bson:"brokers" validate:"omitempty,dive,hostname_port"`
	GroupID          string   `yaml:"groupId" json:"groupId" bson:"groupId"`
	JobTopic         string   `yaml:"jobTopic" json:"jobTopic" bson:"jobTopic"`
	InstructionTopic string   `yaml:"instructionTopic" json:"instructionTopic" bson:"instructionTopic"`
	ResultTopic      string   `yaml:"resultTopic" json:"resultTopic" bson:"resultTopic"`
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type EngineConfig struct {
	Kind string    `yaml:"kind" json:"kind" bson:"kind" validate:"omitempty,oneof=local ssh"`
	SSH  SSHConfig `yaml:"ssh" json:"ssh" bson:"ssh"`
}

type SSHConfig struct {
	Host       string        `yaml:"host" json:"host" bson:"host" validate:"omitempty,hostname_port"`
	User       string        `yaml:"user" json:"user" bson:"user"`
	Password   string        `yaml:"password" json:"password" bson:"password"`
	KeyPath    string        `yaml:"keyPath" json:"keyPath" bson:"keyPath"`
	KnownHosts string        `yaml:"knownHosts" json:"knownHosts" bson:"knownHosts"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" bson:"timeout"`
}

func (s SSHConfig) Options() executor.SSHOptions {
	return executor.SSHOptions{
		User:           s.User,
		Password:       s.Password,
		KeyPath:        s.KeyPath,
		KnownHostsPath: s.KnownHosts,
		Timeout:        s.Timeout,
	}
}

// DriverConfig holds the timeouts that may change while the agent runs.
type DriverConfig struct {
	GracePeriod   time.Duration `yaml:"gracePeriod" json:"gracePeriod" bson:"gracePeriod" validate:"min=0"`
	CancelTimeout time.Duration `yaml:"cancelTimeout" json:"cancelTimeout" bson:"cancelTimeout" validate:"min=0"`
}

type ResultsConfig struct {
	Dir   string      `yaml:"dir" json:"dir" bson:"dir"`
	Mongo MongoConfig `yaml:"mongo" json:"mongo" bson:"mongo"`
}

func (r ResultsConfig) MongoEnabled() bool { return r.Mongo.URI != "" }

// Defaults fills zero values. Driver timeouts are left to the driver's own
// defaults.
func (c *AgentConfig) Defaults() {
	if c.Service == "" {
		c.Service = "stepagent"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Engine.Kind == "" {
		c.Engine.Kind = "local"
	}
	if c.Results.Dir == "" {
		c.Results.Dir = DefaultResultDir
	}
	if c.Kafka.Enabled() {
		if c.Kafka.GroupID == "" {
			c.Kafka.GroupID = c.Service
		}
		if c.Kafka.JobTopic == "" {
			c.Kafka.JobTopic = DefaultJobTopic
		}
		if c.Kafka.InstructionTopic == "" {
			c.Kafka.InstructionTopic = DefaultInstructionTopic
		}
		if c.Kafka.ResultTopic == "" {
			c.Kafka.ResultTopic = DefaultResultTopic
		}
	}
	if c.Results.MongoEnabled() {
		if c.Results.Mongo.DBName == "" {
			c.Results.Mongo.DBName = c.Service
		}
		if c.Results.Mongo.CollName == "" {
			c.Results.Mongo.CollName = "results"
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		e := sl.Current().Interface().(EngineConfig)
		if e.Kind == "ssh" && e.SSH.Host == "" {
			sl.ReportError(e.SSH.Host, "SSH.Host", "Host", "required_for_ssh", "")
		}
	}, EngineConfig{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		c := sl.Current().Interface().(AgentConfig)
		if c.Engine.Kind == "ssh" && c.OS == "windows" {
			sl.ReportError(c.OS, "OS", "OS", "unix_for_ssh", "")
		}
	}, AgentConfig{})
	return v
}

// OSFamily is the family invocations are built for. The SSH engine drives
// a remote POSIX shell, so it always gets Unix regardless of the agent's
// own OS.
func (c *AgentConfig) OSFamily() (builder.OSFamily, error) {
	if c.Engine.Kind == "ssh" {
		return builder.Unix, nil
	}
	return builder.ParseOSFamily(c.OS)
}

func (c *AgentConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid agent config: %w", err)
	}
	return nil
}

// LoadAgent reads the agent configuration from store, applies defaults and
// validates it.
func LoadAgent(store configstore.ConfigStore) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if err := store.Load(cfg); err != nil {
		return nil, err
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
