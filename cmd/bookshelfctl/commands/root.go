package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bookshelf/internal/app"
	"bookshelf/internal/config"
)

// NewRootCmd builds the admin command tree.
func NewRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "bookshelfctl",
		Short: "Bookshelf admin tool",
		Long: `bookshelfctl manages accounts, genres and stored images of a bookshelf
deployment. It reads the same config.yaml as the server.

Subcommands:
  user    - add or list accounts
  genre   - add or list genres
  images  - reconcile stored image blobs`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.ConfigPath, "Path to config.yaml")

	open := func() (*app.App, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		ttl, err := config.ParseSessionTTL(cfg.SessionTTL)
		if err != nil {
			return nil, err
		}
		return app.New(app.Config{
			DatabaseDriver: cfg.DatabaseDriver,
			DatabaseURL:    cfg.DatabaseURL,
			StorageBackend: cfg.StorageBackend,
			UploadFolder:   cfg.UploadFolder,
			MinioEndpoint:  cfg.MinioEndpoint,
			MinioAccessKey: cfg.MinioAccessKey,
			MinioSecretKey: cfg.MinioSecretKey,
			MinioBucket:    cfg.MinioBucket,
			MinioUseSSL:    cfg.MinioUseSSL,
			SessionSecret:  cfg.SessionSecret,
			SessionTTL:     ttl,
		})
	}

	root.AddCommand(newUserCmd(open), newGenreCmd(open), newImagesCmd(open))
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type opener func() (*app.App, error)

// withApp opens the application for one command run and closes it after.
func withApp(open opener, fn func(a *app.App) error) error {
	a, err := open()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
