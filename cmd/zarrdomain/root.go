package main

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"zarrdomain/internal/logging"
	"zarrdomain/pkg/config"
	"zarrdomain/pkg/fetch"
	"zarrdomain/pkg/reconstruction"
	"zarrdomain/pkg/selector"
	"zarrdomain/pkg/transform"
	"zarrdomain/pkg/zarr"
)

var version = "dev"

// app holds what every subcommand shares once configuration is loaded
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg    *config.Config
	logger *logrus.Logger
	cache  *fetch.Cache
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "zarrdomain.yaml"
	}
	return filepath.Join(home, ".config", "zarrdomain", "config.yaml")
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:   "zarrdomain",
		Short: "Reconstruct the spatial domain a versioned pipeline produced for an OME-Zarr dataset",
		Long: `zarrdomain rebuilds the origin, spacing and direction that historical
SmartSPIM pipeline releases assigned to an OME-Zarr image, and carries
annotated points through the registration transforms into CCF space.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default: ~/.config/zarrdomain/config.yaml)")
	pf.Int("level", 0, "resolution level")
	pf.String("unit", "", "physical unit of header spacing")
	pf.String("log-level", "", "log level")
	pf.String("log-format", "", "log format (text or json)")
	pf.String("cache-dir", "", "directory for localized transform files")
	pf.String("region", "", "AWS region")

	for key, flag := range map[string]string{
		"processing.level":     "level",
		"processing.scaleUnit": "unit",
		"logging.level":        "log-level",
		"logging.format":       "log-format",
		"cache.dir":            "cache-dir",
		"storage.region":       "region",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.init()
	}

	root.AddCommand(
		newDomainCmd(a),
		newPointsCmd(a),
		newChainCmd(a),
		newConfigCmd(a),
	)
	return root
}

// init loads the config file, applies flag and environment overrides and
// builds the logger and resource cache.
func (a *app) init() error {
	path := a.cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := loadConfig(a.v, path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}

	fetcher, err := a.newFetcher()
	if err != nil {
		return err
	}
	a.cache = fetch.NewCache(fetcher, cfg.Cache.Dir, cfg.Cache.Expiration, cfg.Cache.CleanupInterval, a.logger)
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ZARRDOMAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the YAML file and decodes it back through v, so any key
// can be overridden by a ZARRDOMAIN_* variable or a bound flag.
func loadConfig(v *viper.Viper, path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "encoding config")
	}
	v.SetConfigType("yaml")
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return nil, errors.Wrap(err, "merging config")
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "applying overrides")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) newFetcher() (fetch.Fetcher, error) {
	awsCfg := aws.NewConfig().WithRegion(a.cfg.Storage.Region)
	if a.cfg.Storage.Anonymous {
		awsCfg = awsCfg.WithCredentials(credentials.AnonymousCredentials)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return fetch.Router{
		Local: fetch.LocalFetcher{},
		HTTP:  fetch.HTTPFetcher{Client: &http.Client{Timeout: a.cfg.Storage.HTTPTimeout}},
		S3:    fetch.NewS3Fetcher(s3.New(sess)),
	}, nil
}

func (a *app) reader() *zarr.Reader {
	return zarr.NewReader(a.cache, a.logger)
}

func (a *app) reconstructor() *reconstruction.Reconstructor {
	return reconstruction.NewReconstructor(&reconstruction.Params{
		Selector:  selector.Default().WithLogger(a.logger),
		ScaleUnit: a.cfg.Processing.ScaleUnit,
		Logger:    a.logger,
	})
}

func (a *app) resolver() *transform.Resolver {
	return transform.NewResolver(a.cfg.Registration.Layouts, a.cfg.Templates, a.logger)
}

func (a *app) orchestrator() *transform.Orchestrator {
	return transform.NewOrchestrator(a.cache, a.logger,
		transform.AffineEngine{},
		transform.CommandEngine{Command: a.cfg.Registration.Command},
	)
}
