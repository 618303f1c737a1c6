package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/fluxcd/watchdog/pkg/config"
	"github.com/fluxcd/watchdog/pkg/daemon"
	"github.com/fluxcd/watchdog/pkg/event"
	"github.com/fluxcd/watchdog/pkg/git"
	daemonhttp "github.com/fluxcd/watchdog/pkg/http/daemon"
	"github.com/fluxcd/watchdog/pkg/notify"
	"github.com/fluxcd/watchdog/pkg/pipeline"
	"github.com/fluxcd/watchdog/pkg/provision"
	"github.com/fluxcd/watchdog/pkg/resolver"
	"github.com/fluxcd/watchdog/pkg/ssh"
	"github.com/fluxcd/watchdog/pkg/transcript"
)

var version = "unversioned"

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  watchdogd keeps a host running the latest revision of its code.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}

	v := viper.New()
	defineConfigFlags(v, fs, os.Getenv, func(err error) {
		fmt.Fprintf(os.Stderr, "error defining flags: %s\n", err)
		os.Exit(1)
	})
	var (
		configFile  = fs.String("config-file", "", "path to a YAML config file; flags and the environment take precedence over it")
		versionFlag = fs.Bool("version", false, "get version number")
	)

	err := fs.Parse(os.Args[1:])
	switch {
	case err == pflag.ErrHelp:
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %s\n\nRun 'watchdogd --help' for usage.\n", err)
		os.Exit(1)
	}
	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg, err := readConfig(v, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading configuration: %s\n", err)
		os.Exit(1)
	}

	// Logger component.
	var logger log.Logger
	{
		switch cfg.LogFormat {
		case "json":
			logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		case "fmt":
			logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		default:
			fmt.Fprintf(os.Stderr, "unsupported log format %q; use fmt or json\n", cfg.LogFormat)
			os.Exit(1)
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	logger.Log("version", version)

	if cfg.NameserverStrategy == "" {
		cfg.NameserverStrategy = config.NameserverFixed
		if cfg.HasAWSCredentials(os.Getenv) {
			cfg.NameserverStrategy = config.NameserverRoute53
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}

	for _, dir := range []*string{&cfg.CodeDir, &cfg.LogDir} {
		if *dir != "" {
			continue
		}
		tmp, err := ioutil.TempDir("", "watchdog")
		if err != nil {
			logger.Log("err", errors.Wrap(err, "making temporary directory"))
			os.Exit(1)
		}
		*dir = tmp
	}
	logger.Log("code-dir", cfg.CodeDir, "log-dir", cfg.LogDir)

	// AWS, used for nameserver discovery, provisioning and DNS
	// records.
	var sess *session.Session
	if cfg.HasAWSCredentials(os.Getenv) {
		awsConfig := aws.NewConfig().WithRegion(cfg.AWSRegion)
		if cfg.AWSID != "" {
			awsConfig = awsConfig.WithCredentials(credentials.NewStaticCredentials(cfg.AWSID, cfg.AWSSecret, ""))
		}
		sess, err = session.NewSessionWithOptions(session.Options{
			Config:            *awsConfig,
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			logger.Log("err", errors.Wrap(err, "creating AWS session"))
			os.Exit(1)
		}
	}
	needAWS := func(what string) {
		if sess == nil {
			logger.Log("err", fmt.Sprintf("%s needs AWS credentials", what))
			os.Exit(1)
		}
	}

	// Resolver component.
	var res *resolver.Resolver
	{
		logger := log.With(logger, "component", "resolver")
		var ns resolver.Nameservers
		switch cfg.NameserverStrategy {
		case config.NameserverRoute53:
			needAWS("the route53 nameserver strategy")
			r53 := &resolver.Route53Nameservers{API: route53.New(sess)}
			ns = r53
			if cfg.Nameserver != "" {
				ns = resolver.FallbackNameservers{r53, resolver.FixedNameserver(cfg.Nameserver)}
			}
		default:
			ns = resolver.FixedNameserver(cfg.Nameserver)
		}
		res = resolver.New(ns,
			resolver.DNSTimeout(cfg.DNSTimeout),
			resolver.MarkerTimeout(cfg.MarkerTimeout),
			resolver.MarkerPath(cfg.MarkerPath),
			resolver.MarkerScheme(cfg.MarkerScheme),
			resolver.MarkerPort(cfg.MarkerPort),
			resolver.RevisionLength(cfg.RevisionLength),
			resolver.Logger(logger),
		)
		logger.Log("nameservers", cfg.NameserverStrategy, "marker", cfg.MarkerScheme+"://"+cfg.Hostname+cfg.MarkerPath)
	}

	// Working copy component.
	var repo *git.WorkingCopy
	{
		logger := log.With(logger, "component", "git")
		remote := git.Remote{URL: cfg.GitURL}
		if err := remote.Valid(); err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		repo = git.NewWorkingCopy(remote, cfg.CodeDir,
			git.Timeout(cfg.GitTimeout),
			git.Branch(cfg.GitBranch),
			git.RevisionLength(cfg.RevisionLength),
			git.Logger(logger),
		)
		logger.Log("url", remote.SafeURL(), "branch", cfg.GitBranch)
		if err := repo.Init(context.Background(), func(line string) { logger.Log("git", line) }); err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
	}

	// Pipeline component, and the inventory of what it leaves
	// behind.
	var pipe *pipeline.Pipeline
	var inventory daemon.Inventory
	{
		logger := log.With(logger, "component", "pipeline")
		var steps []pipeline.Step
		if cfg.InstallCommand != "" {
			steps = append(steps, pipeline.Command{StepName: "install", Command: cfg.InstallCommand})
		}

		if !cfg.UsesBuiltinDeploy() {
			steps = append(steps, pipeline.Command{StepName: "deploy", Command: cfg.DeployCommand})
		} else {
			var creator pipeline.Creator
			switch cfg.Provisioner {
			case config.ProvisionerEC2:
				needAWS("the ec2 provisioner")
				pattern := cfg.InstancePattern
				if pattern == "" {
					pattern = provision.DefaultPattern(cfg.Hostname)
				}
				instances := &provision.EC2{
					API:              ec2.New(sess),
					ImageID:          cfg.InstanceImage,
					InstanceType:     cfg.InstanceType,
					KeyName:          cfg.InstanceKeyName,
					SubnetID:         cfg.InstanceSubnet,
					SecurityGroupIDs: cfg.InstanceSecurityGroups,
					Pattern:          pattern,
					Logger:           log.With(logger, "provisioner", "ec2"),
				}
				creator = instances
				if cfg.Cleanup {
					inventory = instances
				}
			default:
				creator = &provision.Command{CreateCommand: cfg.CreateCommand, Dir: cfg.CodeDir}
			}
			steps = append(steps, pipeline.Provision(creator))

			if cfg.KeysDir != "" {
				if cfg.SSHIdentity == "" {
					logger.Log("err", "adding keys from --keys-dir needs an --ssh-identity to log in with")
					os.Exit(1)
				}
				identity, err := ssh.LoadIdentity(cfg.SSHIdentity)
				if err != nil {
					logger.Log("err", err)
					os.Exit(1)
				}
				distributor := &ssh.Distributor{
					Identity: identity,
					User:     cfg.SSHUser,
					Logger:   log.With(logger, "step", "keys"),
				}
				steps = append(steps, pipeline.DistributeKeys(distributor, cfg.KeysDir))
			}

			steps = append(steps, pipeline.Push(repo, cfg.PushRemote, cfg.PushRef))

			if sess != nil {
				steps = append(steps, pipeline.UpdateDNS(&provision.Route53Records{API: route53.New(sess), ZoneID: cfg.ZoneID}))
			} else {
				logger.Log("warning", "no AWS credentials, so DNS records won't be updated")
			}
		}

		pipe = pipeline.New(
			pipeline.Timeout(cfg.PipelineTimeout),
			pipeline.Logger(logger),
			pipeline.Steps(steps...),
		)
		logger.Log("steps", fmt.Sprint(pipe.StepNames()), "cleanup", inventory != nil)
	}

	// Event subscribers: the log, transcripts, and notifications.
	bus := event.NewBus()
	transcripts := transcript.NewWriter(cfg.LogDir, log.With(logger, "component", "transcript"))
	{
		eventLogger := log.With(logger, "component", "events")
		bus.Subscribe("log", func(e event.Event) {
			eventLogger.Log("event", e.Type, "data", e.Data())
		})
		bus.Subscribe("transcript", transcripts.Handle)

		logger := log.With(logger, "component", "notify")
		var notifiers []notify.Notifier
		if cfg.IRCServer != "" && cfg.IRCChannel != "" {
			notifiers = append(notifiers, &notify.IRC{
				Server:  cfg.IRCServer,
				Channel: cfg.IRCChannel,
				Nick:    cfg.IRCNick,
				UseTLS:  cfg.IRCTLS,
				Logger:  log.With(logger, "notifier", "irc"),
			})
			logger.Log("irc", cfg.IRCServer, "channel", cfg.IRCChannel)
		}
		if cfg.SlackURL != "" {
			notifiers = append(notifiers, &notify.Slack{HookURL: cfg.SlackURL, Username: cfg.IRCNick})
			logger.Log("slack", "enabled")
		}
		if len(notifiers) > 0 {
			bus.Subscribe("notify", notify.NewObserver(cfg.StatusURL, logger, notifiers...).Handle)
		}
	}

	d := &daemon.Daemon{
		V:           version,
		Hostname:    cfg.Hostname,
		Repo:        repo,
		Resolver:    res,
		Pipeline:    pipe,
		Inventory:   inventory,
		Events:      bus,
		Transcripts: transcript.Store{Dir: cfg.LogDir},
		Clock:       clockwork.NewRealClock(),
		Logger:      log.With(logger, "component", "daemon"),
		LoopVars: &daemon.LoopVars{
			PollInterval:   cfg.PollInterval,
			RetryBackoff:   cfg.RetryBackoff,
			ResolveTimeout: cfg.ResolveTimeout,
			CleanupTimeout: cfg.CleanupTimeout,
		},
	}

	// Shutdown domain.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	// HTTP transport component.
	go func() {
		addr := cfg.ListenAddress()
		handler := daemonhttp.NewHandler(d, daemonhttp.NewRouter(), daemonhttp.HandlerOptions{
			WebhookSecret: []byte(cfg.WebhookSecret),
			CheckRate:     rate.Limit(cfg.CheckRateLimit),
			CheckBurst:    cfg.CheckBurst,
			Logger:        log.With(logger, "component", "http"),
		})
		logger.Log("addr", addr)
		errc <- http.ListenAndServe(addr, handler)
	}()

	shutdown := make(chan struct{})
	shutdownWg := &sync.WaitGroup{}
	shutdownWg.Add(1)
	go d.Loop(shutdown, shutdownWg, log.With(logger, "component", "loop"))

	logger.Log("exiting", <-errc)
	close(shutdown)
	shutdownWg.Wait()
	bus.Close()
	if err := transcripts.Close(); err != nil {
		logger.Log("err", err)
	}
}
