package executor

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type ResilienceConfig struct {
	BackoffSettings        *backoff.ExponentialBackOff
	CircuitBreakerSettings gobreaker.Settings
	CircuitBreaker         *gobreaker.CircuitBreaker
}

// ResilientSSHClient opens sessions through a circuit breaker and retries
// with exponential backoff.
type ResilientSSHClient struct {
	SSHClient *ssh.Client
	ResConf   *ResilienceConfig
}

func NewResilienceConfig(defaultBackOff *backoff.ExponentialBackOff, cbs gobreaker.Settings) *ResilienceConfig {
	return &ResilienceConfig{
		BackoffSettings:        defaultBackOff,
		CircuitBreakerSettings: cbs,
		CircuitBreaker:         gobreaker.NewCircuitBreaker(cbs),
	}
}

// DefaultResilienceConfig trips after five consecutive session failures and
// retries session creation for at most a minute.
func DefaultResilienceConfig(name string) *ResilienceConfig {
	cbs := gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return NewResilienceConfig(
		&backoff.ExponentialBackOff{
			InitialInterval:     500 * time.Millisecond,
			MaxInterval:         5 * time.Second,
			MaxElapsedTime:      1 * time.Minute,
			Multiplier:          1.5,
			RandomizationFactor: 0.5,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		},
		cbs,
	)
}

func (c *ResilientSSHClient) Close() error {
	return c.SSHClient.Close()
}

func NewResilientClient(remote string, config *ssh.ClientConfig) (*ResilientSSHClient, error) {
	client, err := ssh.Dial("tcp", remote, config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", remote, err)
	}
	return &ResilientSSHClient{
		SSHClient: client,
		ResConf:   DefaultResilienceConfig("ssh-" + remote),
	}, nil
}

// newSession opens a session through the circuit breaker.
// The caller is responsible for closing the returned session.
func (c *ResilientSSHClient) newSession() (*ssh.Session, error) {
	res, err := c.ResConf.CircuitBreaker.Execute(func() (any, error) {
		return c.SSHClient.NewSession()
	})
	if err != nil {
		return nil, err
	}
	return res.(*ssh.Session), nil
}

// SSHOptions describes how to reach and authenticate to a remote host.
type SSHOptions struct {
	User           string
	Password       string
	KeyPath        string
	KnownHostsPath string // empty disables host key checking
	Timeout        time.Duration
}

func (o SSHOptions) ClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if o.KeyPath != "" {
		keyAuth, err := publicKeyAuth(o.KeyPath)
		if err != nil {
			return nil, err
		}
		auth = append(auth, keyAuth)
	}
	if o.Password != "" {
		auth = append(auth, ssh.Password(o.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh: no authentication method configured for user %q", o.User)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if o.KnownHostsPath != "" {
		cb, err := knownhosts.New(o.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("ssh: known hosts %s: %w", o.KnownHostsPath, err)
		}
		hostKeyCallback = cb
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User:            o.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}, nil
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}
