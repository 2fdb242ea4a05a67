package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/smartgallery/smartgallery/gallery"
	"github.com/smartgallery/smartgallery/startup"
	"github.com/smartgallery/smartgallery/web"
)

func main() {
	// Local development convenience; in production the variables come from
	// the environment directly.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "smartgallery",
		Usage: "image gallery backed by Azure Blob Storage",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "use-managed-identity",
				Usage:   "authenticate with the ambient Azure identity instead of a connection string",
				EnvVars: []string{"GALLERY_USE_MANAGED_IDENTITY"},
			},
			&cli.StringFlag{
				Name:    "account-name",
				Usage:   "storage account name, required with managed identity",
				EnvVars: []string{"GALLERY_ACCOUNT_NAME"},
			},
			&cli.StringFlag{
				Name:    "connection-string",
				Usage:   "storage connection string, required without managed identity",
				EnvVars: []string{"GALLERY_CONNECTION_STRING"},
			},
			&cli.StringFlag{
				Name:    "container-name",
				Usage:   "blob container holding the gallery objects",
				Value:   gallery.DefaultContainerName,
				EnvVars: []string{"GALLERY_CONTAINER_NAME"},
			},
			&cli.StringFlag{
				Name:    "blob-storage-url",
				Usage:   "blob endpoint suffix, or the emulator host with --azurite",
				Value:   gallery.DefaultBlobStorageURL,
				EnvVars: []string{"GALLERY_BLOB_STORAGE_URL"},
			},
			&cli.BoolFlag{
				Name:    "azurite",
				Usage:   "use the Azurite emulator URL layout",
				EnvVars: []string{"GALLERY_AZURITE"},
			},
			&cli.StringFlag{
				Name:    "address",
				Usage:   "listen address",
				Value:   ":8080",
				EnvVars: []string{"GALLERY_ADDRESS"},
			},
			&cli.Int64Flag{
				Name:    "max-upload-size",
				Usage:   "upload body cap in bytes",
				Value:   web.DefaultMaxUploadBytes,
				EnvVars: []string{"GALLERY_MAX_UPLOAD_SIZE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log filter, one of error, warn, info, debug",
				Value:   "info",
				EnvVars: []string{"GALLERY_LOG_LEVEL"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := newLogger(c.String("log-level"))

	cfg := gallery.Config{
		UseManagedIdentity: c.Bool("use-managed-identity"),
		AccountName:        c.String("account-name"),
		ConnectionString:   c.String("connection-string"),
		ContainerName:      c.String("container-name"),
		BlobStorageURL:     c.String("blob-storage-url"),
		Azurite:            c.Bool("azurite"),
	}

	sup := startup.New(logger, cfg)
	sup.Run(c.Context)

	var handler http.Handler

	switch sup.State() {
	case startup.StateServing:
		handler = web.NewHandler(logger, sup.Repository(), c.Int64("max-upload-size"))

		level.Info(logger).Log(
			"msg", "gallery is up",
			"container", cfg.ContainerName,
			"maxUploadSize", humanize.IBytes(uint64(c.Int64("max-upload-size"))),
			"directSigning", sup.Repository().Signer().CanSignDirectly(),
		)
	default:
		diag := sup.Diagnostic()
		handler = web.NewDiagnosticHandler(logger, diag)

		level.Error(logger).Log("msg", "serving diagnostics instead of the gallery", "title", diag.Title)
	}

	srv := &http.Server{
		Addr:         c.String("address"),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		level.Info(logger).Log("msg", "listening", "address", srv.Addr)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve, %w", err)
	case sig := <-quit:
		level.Info(logger).Log("msg", "shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown, %w", err)
	}

	level.Info(logger).Log("msg", "server stopped")

	return nil
}

func newLogger(logLevel string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

	switch logLevel {
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return log.With(logger, "ts", log.DefaultTimestampUTC)
}
