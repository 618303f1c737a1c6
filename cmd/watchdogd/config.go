package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluxcd/watchdog/pkg/config"
	"github.com/fluxcd/watchdog/pkg/daemon"
	"github.com/fluxcd/watchdog/pkg/provision"
	"github.com/fluxcd/watchdog/pkg/revision"
)

// envName is the environment variable that can be used in place of
// a flag; e.g., --git-url is WATCHDOG_GIT_URL.
func envName(flagName string) string {
	return strings.ToUpper(config.EnvPrefix + "_" + strings.Replace(flagName, "-", "_", -1))
}

// defineConfigFlags defines the flags that can also be set in
// a config file or the environment. These need special treatment,
// because some care must be taken to match them ("bind") with config
// file field names.
func defineConfigFlags(v *viper.Viper, fs *pflag.FlagSet, getenv func(string) string, bail func(error)) {

	bind := func(fieldName, flagName string) error {
		configStruct := reflect.TypeOf(config.Config{})
		field, ok := configStruct.FieldByName(fieldName)
		if !ok {
			return fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
		}
		// this parallels the logic in
		// github.com/mitchellh/mapstructure, except that we want to
		// bail if a field is mentioned that is marked ignore, like
		// this: `mapstructure:"-"`
		mappedName := field.Name
		mapstructureTagParts := strings.Split(field.Tag.Get("mapstructure"), ",")
		if namePart := mapstructureTagParts[0]; namePart != "" {
			if namePart == "-" { // means ignore this field
				return fmt.Errorf(`attempt to bind a flag to a config field tagged as ignored, %q`, field.Name)
			}
			mappedName = namePart
		}
		if err := v.BindPFlag(mappedName, fs.Lookup(flagName)); err != nil {
			return err
		}

		// The legacy name is used only when the new one isn't set.
		env := envName(flagName)
		if legacy, ok := config.LegacyEnv[mappedName]; ok && getenv(env) == "" && getenv(legacy) != "" {
			env = legacy
		}
		return v.BindEnv(mappedName, env)
	}

	bindOrBail := func(fieldName, flagName string) {
		if err := bind(fieldName, flagName); err != nil {
			bail(err)
		}
	}

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringP := func(fieldName, flagName, short, def, desc string) {
		fs.StringP(flagName, short, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringSlice := func(fieldName, flagName string, def []string, desc string) {
		fs.StringSlice(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineBool := func(fieldName, flagName string, def bool, desc string) {
		fs.Bool(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineFloat64 := func(fieldName, flagName string, def float64, desc string) {
		fs.Float64(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineString("LogFormat", "log-format", "fmt", `change the log format ("fmt" or "json")`)
	defineStringP("Listen", "listen", "l", ":8080", "listen address where the status page, /check, the API and /metrics are served")
	defineString("Port", "port", "", "port to listen on, overriding the port of --listen")

	// what to watch, and where from
	defineString("Hostname", "hostname", "", "hostname of the deployment to watch; e.g., login.dev.example.org")
	defineString("GitURL", "git-url", "", "URL of the git repo with the code to deploy")
	defineString("GitBranch", "git-branch", "dev", "branch of the git repo to deploy")
	defineString("CodeDir", "code-dir", "", "directory for the working copy; a temporary directory if not given")
	defineString("LogDir", "log-dir", "", "directory for deployment transcripts; a temporary directory if not given")
	defineInt("RevisionLength", "revision-length", revision.DefaultLength, "length of the abbreviated revisions deployed hosts report")

	// timing
	defineDuration("PollInterval", "poll-interval", daemon.DefaultPollInterval, "check for updates at least this often, regardless of webhooks")
	defineDuration("RetryBackoff", "retry-backoff", daemon.DefaultRetryBackoff, "wait this long after a failed check before trying again")
	defineDuration("GitTimeout", "git-timeout", 2*time.Minute, "duration after which git operations time out")
	defineDuration("DNSTimeout", "dns-timeout", 4*time.Second, "duration after which the query to the authoritative nameserver times out")
	defineDuration("MarkerTimeout", "marker-timeout", 10*time.Second, "duration after which fetching the version marker times out")
	defineDuration("ResolveTimeout", "resolve-timeout", daemon.DefaultResolveTimeout, "duration after which finding the running revision as a whole times out")
	defineDuration("PipelineTimeout", "pipeline-timeout", 30*time.Minute, "duration after which a deployment is abandoned")
	defineDuration("CleanupTimeout", "cleanup-timeout", daemon.DefaultCleanupTimeout, "duration after which cleaning up stale instances is abandoned")

	// finding the running revision
	defineString("MarkerPath", "marker-path", "/ver.txt", "path of the version marker served by deployed hosts")
	defineString("MarkerScheme", "marker-scheme", "http", `scheme used to fetch the version marker ("http" or "https")`)
	defineInt("MarkerPort", "marker-port", 0, "port used to fetch the version marker; the scheme's default if not given")
	defineString("NameserverStrategy", "nameserver-strategy", "", fmt.Sprintf(`how to find the authoritative nameserver (%q or %q); %q if there are AWS credentials, %q otherwise`, config.NameserverRoute53, config.NameserverFixed, config.NameserverRoute53, config.NameserverFixed))
	defineString("Nameserver", "nameserver", "", "authoritative nameserver host:port; used by the fixed strategy, and as the fallback for route53")

	// deploying
	defineString("InstallCommand", "install-command", "npm install", "command run in the working copy before deploying; empty to skip")
	defineString("DeployCommand", "deploy-command", "", "command run in the working copy to deploy; if not given, a new instance is provisioned")
	defineString("Provisioner", "provisioner", config.ProvisionerCommand, fmt.Sprintf(`how to make new instances (%q or %q)`, config.ProvisionerEC2, config.ProvisionerCommand))
	defineString("CreateCommand", "create-command", provision.DefaultCreateCommand, "command that creates an instance, printing JSON with its ipAddress")
	defineString("AWSRegion", "aws-region", "us-east-1", "AWS region")
	defineString("AWSID", "aws-id", "", "AWS access key ID; the usual AWS environment and config files are used if not given")
	defineString("AWSSecret", "aws-secret", "", "AWS secret access key")
	defineString("InstanceImage", "instance-image", "", "AMI ID for new instances (ec2 provisioner)")
	defineString("InstanceType", "instance-type", "t2.micro", "instance type for new instances (ec2 provisioner)")
	defineString("InstanceKeyName", "instance-key-name", "", "EC2 key pair name for new instances")
	defineString("InstanceSubnet", "instance-subnet", "", "subnet ID for new instances")
	defineStringSlice("InstanceSecurityGroups", "instance-security-group", nil, "security group IDs for new instances")
	defineString("InstancePattern", "instance-pattern", "", `glob matching the names of instances cleaned up after a deployment; "<hostname> (*)" if not given`)
	defineBool("Cleanup", "cleanup", true, "destroy instances of older revisions after a successful deployment (ec2 provisioner)")
	defineString("ZoneID", "zone-id", "", "Route53 hosted zone of the hostname; looked up from its parent domain if not given")
	defineString("KeysDir", "keys-dir", "", "directory of *.pub keys to add to new instances")
	defineString("SSHIdentity", "ssh-identity", "", "private key used to log in to new instances to add keys")
	defineString("SSHUser", "ssh-user", "ec2-user", "user to log in to new instances as")
	defineString("PushRemote", "push-remote", "app@{address}:git", "git remote to push the code to, with {address} standing for the new instance")
	defineString("PushRef", "push-ref", "HEAD:dev", "refspec pushed to the new instance")

	// notifications
	defineString("IRCServer", "irc-server", "", "IRC server host:port to announce deployments on")
	defineString("IRCChannel", "irc-channel", "", "IRC channel to announce deployments in")
	defineString("IRCNick", "irc-nick", "watchdog", "IRC nickname")
	defineBool("IRCTLS", "irc-tls", false, "connect to the IRC server with TLS")
	defineString("SlackURL", "slack-url", "", "Slack incoming webhook URL to announce deployments to")
	defineString("StatusURL", "status-url", "https://deployer.personatest.org", "base URL of this watchdog, as quoted in announcements")

	// the check endpoint
	defineString("WebhookSecret", "webhook-secret", "", "secret used to check the signatures of GitHub webhook deliveries")
	defineFloat64("CheckRateLimit", "check-rate-limit", float64(1), "requests per second allowed to /check")
	defineInt("CheckBurst", "check-burst", 10, "burst of requests allowed to /check")
}

// readConfig puts together flags, environment and config file.
func readConfig(v *viper.Viper, configFile string) (config.Config, error) {
	var cfg config.Config
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType(config.ConfigType)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}
	err := v.Unmarshal(&cfg)
	return cfg, err
}
