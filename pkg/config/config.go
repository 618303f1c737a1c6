// Package config holds the configuration of watchdogd, as read from
// flags, the environment and an optional config file.
package config

import (
	"fmt"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	ConfigType = "yaml"
	EnvPrefix  = "watchdog"
)

// These are the ways of discovering the authoritative nameserver.
const (
	NameserverRoute53 = "route53"
	NameserverFixed   = "fixed"
)

// These are the ways of making a new instance, when there's no
// deploy command.
const (
	ProvisionerEC2     = "ec2"
	ProvisionerCommand = "command"
)

// LegacyEnv maps environment variables that deployments of the watchdog
// have long set to the keys they configure.
var LegacyEnv = map[string]string{
	"codeDir":    "CODE_DIR",
	"logDir":     "DEPLOY_LOG_DIR",
	"port":       "PORT",
	"keysDir":    "ADDITIONAL_KEYPAIRS",
	"awsId":      "AWS_ID",
	"awsSecret":  "AWS_SECRET",
	"ircServer":  "IRC_SERVER",
	"ircChannel": "IRC_CHANNEL",
}

type Config struct {
	LogFormat string `mapstructure:"logFormat"`
	Listen    string `mapstructure:"listen"`
	// Port, if set, overrides the port of Listen.
	Port string `mapstructure:"port"`

	Hostname       string `mapstructure:"hostname"`
	GitURL         string `mapstructure:"gitUrl"`
	GitBranch      string `mapstructure:"gitBranch"`
	CodeDir        string `mapstructure:"codeDir"`
	LogDir         string `mapstructure:"logDir"`
	RevisionLength int    `mapstructure:"revisionLength"`

	PollInterval    time.Duration `mapstructure:"pollInterval"`
	RetryBackoff    time.Duration `mapstructure:"retryBackoff"`
	GitTimeout      time.Duration `mapstructure:"gitTimeout"`
	DNSTimeout      time.Duration `mapstructure:"dnsTimeout"`
	MarkerTimeout   time.Duration `mapstructure:"markerTimeout"`
	ResolveTimeout  time.Duration `mapstructure:"resolveTimeout"`
	PipelineTimeout time.Duration `mapstructure:"pipelineTimeout"`
	CleanupTimeout  time.Duration `mapstructure:"cleanupTimeout"`

	MarkerPath         string `mapstructure:"markerPath"`
	MarkerScheme       string `mapstructure:"markerScheme"`
	MarkerPort         int    `mapstructure:"markerPort"`
	NameserverStrategy string `mapstructure:"nameserverStrategy"`
	Nameserver         string `mapstructure:"nameserver"`

	InstallCommand string `mapstructure:"installCommand"`
	DeployCommand  string `mapstructure:"deployCommand"`

	Provisioner            string   `mapstructure:"provisioner"`
	CreateCommand          string   `mapstructure:"createCommand"`
	AWSRegion              string   `mapstructure:"awsRegion"`
	AWSID                  string   `mapstructure:"awsId"`
	AWSSecret              string   `mapstructure:"awsSecret"`
	InstanceImage          string   `mapstructure:"instanceImage"`
	InstanceType           string   `mapstructure:"instanceType"`
	InstanceKeyName        string   `mapstructure:"instanceKeyName"`
	InstanceSubnet         string   `mapstructure:"instanceSubnet"`
	InstanceSecurityGroups []string `mapstructure:"instanceSecurityGroups"`
	InstancePattern        string   `mapstructure:"instancePattern"`
	Cleanup                bool     `mapstructure:"cleanup"`
	ZoneID                 string   `mapstructure:"zoneId"`

	KeysDir     string `mapstructure:"keysDir"`
	SSHIdentity string `mapstructure:"sshIdentity"`
	SSHUser     string `mapstructure:"sshUser"`
	PushRemote  string `mapstructure:"pushRemote"`
	PushRef     string `mapstructure:"pushRef"`

	IRCServer  string `mapstructure:"ircServer"`
	IRCChannel string `mapstructure:"ircChannel"`
	IRCNick    string `mapstructure:"ircNick"`
	IRCTLS     bool   `mapstructure:"ircTls"`
	SlackURL   string `mapstructure:"slackUrl"`
	StatusURL  string `mapstructure:"statusUrl"`

	WebhookSecret  string  `mapstructure:"webhookSecret"`
	CheckRateLimit float64 `mapstructure:"checkRateLimit"`
	CheckBurst     int     `mapstructure:"checkBurst"`
}

// HasAWSCredentials says whether there's some way of talking to AWS:
// credentials given explicitly, or in the usual environment.
func (c Config) HasAWSCredentials(env func(string) string) bool {
	if c.AWSID != "" && c.AWSSecret != "" {
		return true
	}
	return env("AWS_ACCESS_KEY_ID") != "" || env("AWS_PROFILE") != ""
}

// ListenAddress is where the HTTP API is served.
func (c Config) ListenAddress() string {
	if c.Port != "" {
		return ":" + c.Port
	}
	return c.Listen
}

// UsesBuiltinDeploy is true when deploying means provisioning a new
// instance, rather than running DeployCommand.
func (c Config) UsesBuiltinDeploy() bool {
	return c.DeployCommand == ""
}

// Validate reports everything wrong with the configuration at once.
func (c Config) Validate() error {
	var result error
	fail := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Hostname == "" {
		fail("a hostname to watch is required")
	}
	if c.GitURL == "" {
		fail("a git URL to deploy from is required")
	}
	if c.GitBranch == "" {
		fail("a git branch is required")
	}
	if c.RevisionLength <= 0 {
		fail("revision length must be positive, got %d", c.RevisionLength)
	}

	for name, d := range map[string]time.Duration{
		"pollInterval":    c.PollInterval,
		"retryBackoff":    c.RetryBackoff,
		"gitTimeout":      c.GitTimeout,
		"dnsTimeout":      c.DNSTimeout,
		"markerTimeout":   c.MarkerTimeout,
		"resolveTimeout":  c.ResolveTimeout,
		"pipelineTimeout": c.PipelineTimeout,
		"cleanupTimeout":  c.CleanupTimeout,
	} {
		if d <= 0 {
			fail("%s must be positive, got %s", name, d)
		}
	}

	switch c.MarkerScheme {
	case "http", "https":
	default:
		fail("marker scheme must be http or https, got %q", c.MarkerScheme)
	}

	switch c.NameserverStrategy {
	case NameserverFixed:
		if c.Nameserver == "" {
			fail("the %s nameserver strategy needs a nameserver", NameserverFixed)
		}
	case NameserverRoute53, "":
	default:
		fail("unknown nameserver strategy %q", c.NameserverStrategy)
	}

	if c.UsesBuiltinDeploy() {
		switch c.Provisioner {
		case ProvisionerEC2:
			if c.InstanceImage == "" {
				fail("the %s provisioner needs an instance image", ProvisionerEC2)
			}
		case ProvisionerCommand:
		default:
			fail("unknown provisioner %q", c.Provisioner)
		}
		if c.PushRemote == "" {
			fail("a push remote is required to deploy to a new instance")
		}
	}

	if c.CheckRateLimit <= 0 {
		fail("check rate limit must be positive, got %v", c.CheckRateLimit)
	}

	if result != nil {
		return errors.Wrap(result, "invalid configuration")
	}
	return nil
}
