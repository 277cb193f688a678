package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables. The link, target folder, max download time
// and force logout settings can be overridden on the command line.
type Config struct {
	Links           []string      `envconfig:"LINKS"`
	TargetDir       string        `envconfig:"TARGET_DIR"`
	MaxDownloadTime time.Duration `envconfig:"MAX_DOWNLOAD_TIME" default:"1h"`
	ForceLogout     bool          `envconfig:"FORCE_LOGOUT"`

	RemoteClient string `envconfig:"REMOTE_CLIENT" default:"megacmd"`
	MegaCmdDir   string `envconfig:"MEGACMD_DIR"`
	PutioToken   string `envconfig:"PUTIO_TOKEN"`

	MaxAttempts            int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	StallTimeout           time.Duration `envconfig:"STALL_TIMEOUT" default:"2m"`
	MaxTransferSize        string        `envconfig:"MAX_TRANSFER_SIZE" default:"0"`
	IncludeExtensions      []string      `envconfig:"INCLUDE_EXTENSIONS"`
	RedownloadSizeMismatch bool          `envconfig:"REDOWNLOAD_SIZE_MISMATCH"`

	QuotaThreshold string `envconfig:"QUOTA_THRESHOLD" default:"4500MB"`

	Router                   string        `envconfig:"ROUTER" default:"none"`
	RouterCommand            string        `envconfig:"ROUTER_COMMAND"`
	RotationAttempts         int           `envconfig:"ROTATION_ATTEMPTS" default:"3"`
	RotationTimeout          time.Duration `envconfig:"ROTATION_TIMEOUT" default:"3m"`
	RotationSettleDelay      time.Duration `envconfig:"ROTATION_SETTLE_DELAY" default:"10s"`
	ConnectivityCheckURL     string        `envconfig:"CONNECTIVITY_CHECK_URL" default:"http://www.google.com"`
	ConnectivityPollInterval time.Duration `envconfig:"CONNECTIVITY_POLL_INTERVAL" default:"5s"`
	IdentityEchoURL          string        `envconfig:"IDENTITY_ECHO_URL" default:"https://api.ipify.org"`

	Fritzbox struct {
		URL string `split_words:"true" default:"http://fritz.box:49000"`
	}

	Glinet struct {
		URL         string `split_words:"true" default:"http://192.168.8.1/rpc"`
		Username    string `split_words:"true" default:"root"`
		Password    string `split_words:"true"`
		VPNProvider string `envconfig:"VPN_PROVIDER" default:"Mullvad"`
	}

	JournalPath       string `envconfig:"JOURNAL_PATH" default:"downloads.db"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile           string `envconfig:"LOG_FILE"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool          `split_words:"true" default:"true"`
		BindAddress  string        `split_words:"true"`
		OTLPEndpoint string        `envconfig:"OTLP_ENDPOINT"`
		OTLPInterval time.Duration `envconfig:"OTLP_INTERVAL" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// ParseFlags applies command line arguments on top of the environment configuration.
// Links given on the command line replace the ones from the environment.
func (c *Config) ParseFlags(name string, args []string, output io.Writer) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	var links linkList

	maxSeconds := int64(c.MaxDownloadTime / time.Second)

	fs.Var(&links, "link", "public link to download, repeatable")
	fs.Var(&links, "l", "shorthand for --link")
	fs.StringVar(&c.TargetDir, "target-folder", c.TargetDir, "destination directory")
	fs.StringVar(&c.TargetDir, "t", c.TargetDir, "shorthand for --target-folder")
	fs.Int64Var(&maxSeconds, "max-download-time", maxSeconds, "maximum seconds per download attempt")
	fs.Int64Var(&maxSeconds, "m", maxSeconds, "shorthand for --max-download-time")
	fs.BoolVar(&c.ForceLogout, "force-logout", c.ForceLogout, "log out of the remote service at the end of the run regardless of state")
	fs.BoolVar(&c.ForceLogout, "f", c.ForceLogout, "shorthand for --force-logout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if len(links) > 0 {
		c.Links = links
	}

	c.MaxDownloadTime = time.Duration(maxSeconds) * time.Second

	return nil
}

// Validate checks the settings that cannot be expressed with struct tags.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Links) == 0 {
		errs = append(errs, errors.New("at least one link is required"))
	}

	if c.TargetDir == "" {
		errs = append(errs, errors.New("target folder is required"))
	}

	if c.MaxDownloadTime <= 0 {
		errs = append(errs, errors.New("max download time must be positive"))
	}

	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}

	if c.RotationAttempts < 1 {
		errs = append(errs, errors.New("rotation attempts must be at least 1"))
	}

	if _, err := c.QuotaThresholdBytes(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.MaxTransferBytes(); err != nil {
		errs = append(errs, err)
	}

	switch c.RemoteClient {
	case "megacmd":
	case "putio":
		if c.PutioToken == "" {
			errs = append(errs, errors.New("PUTIO_TOKEN is required for the putio client"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid remote client: %s", c.RemoteClient))
	}

	switch c.Router {
	case "none", "fritzbox":
	case "command":
		if c.RouterCommand == "" {
			errs = append(errs, errors.New("ROUTER_COMMAND is required for the command router"))
		}
	case "glinet":
		if c.Glinet.Password == "" {
			errs = append(errs, errors.New("GLINET_PASSWORD is required for the glinet router"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid router: %s", c.Router))
	}

	return errors.Join(errs...)
}

// QuotaThresholdBytes parses QUOTA_THRESHOLD ("4500MB", "4.5 GiB", ...).
func (c *Config) QuotaThresholdBytes() (int64, error) {
	return parseBytes("QUOTA_THRESHOLD", c.QuotaThreshold)
}

// MaxTransferBytes parses MAX_TRANSFER_SIZE, 0 meaning no segmentation.
func (c *Config) MaxTransferBytes() (int64, error) {
	return parseBytes("MAX_TRANSFER_SIZE", c.MaxTransferSize)
}

func parseBytes(name, value string) (int64, error) {
	if value == "" || value == "0" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}

	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid %s %q: larger than %s", name, value, humanize.Bytes(math.MaxInt64))
	}

	return int64(n), nil
}

type linkList []string

func (l *linkList) String() string {
	return strings.Join(*l, ",")
}

func (l *linkList) Set(v string) error {
	if v == "" {
		return errors.New("link must not be empty")
	}

	*l = append(*l, v)

	return nil
}
