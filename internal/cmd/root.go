// Package cmd implements the docuquery command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docuquery-api/internal/config"
	"docuquery-api/internal/server/handlers"
)

type rootOptions struct {
	configFile string
	envFile    string

	v     *viper.Viper
	build handlers.BuildInfo
}

func (o *rootOptions) load() (*config.Settings, error) {
	return config.Load(o.v, config.Sources{ConfigFile: o.configFile, EnvFile: o.envFile})
}

// NewRootCmd builds the command tree. build is reported by `version` and /info.
func NewRootCmd(build handlers.BuildInfo) *cobra.Command {
	o := &rootOptions{v: config.NewViper(), build: build}

	root := &cobra.Command{
		Use:           "docuquery",
		Short:         "DocuQuery AI API server",
		Long:          "DocuQuery AI - document Q&A API front door with per-client rate limiting.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&o.configFile, "config", "", "YAML config file (optional)")
	root.PersistentFlags().StringVar(&o.envFile, "env-file", "", "dotenv file to load (default .env when present)")

	root.AddCommand(
		newServeCmd(o),
		newVersionCmd(o),
		newConfigCmd(o),
	)
	return root
}

func Execute(ctx context.Context, build handlers.BuildInfo) error {
	return NewRootCmd(build).ExecuteContext(ctx)
}
