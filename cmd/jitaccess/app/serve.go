package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"go.arvum.net/jitaccess/internal/activation"
	"go.arvum.net/jitaccess/internal/catalog"
	"go.arvum.net/jitaccess/internal/config"
	"go.arvum.net/jitaccess/internal/metrics"
	"go.arvum.net/jitaccess/internal/notify"
	"go.arvum.net/jitaccess/internal/provision"
	"go.arvum.net/jitaccess/internal/providers/asset"
	"go.arvum.net/jitaccess/internal/providers/credentials"
	"go.arvum.net/jitaccess/internal/providers/email/resend"
	"go.arvum.net/jitaccess/internal/providers/resourcemanager"
	"go.arvum.net/jitaccess/internal/token"
	"go.arvum.net/jitaccess/internal/tracing"
	"go.arvum.net/jitaccess/internal/web"
)

const shutdownGrace = 10 * time.Second

func mustStringFlag(flags *pflag.FlagSet, flagName string) string {
	val, err := flags.GetString(flagName)
	if err != nil {
		panic(err)
	}
	return val
}

func serve() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the just-in-time access API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: false,
			}))
			slog.SetDefault(logger)

			flushTraces, err := tracing.Configure(cmd.Context(), resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String("jitaccess.arvum.net"),
			))
			if err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}

			cfg, err := config.Load(mustStringFlag(cmd.Flags(), "config"))
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			clock := clockwork.NewRealClock()

			// Resolve application default credentials once so a missing or
			// broken credential fails startup, not the first request.
			creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")
			if err != nil {
				return fmt.Errorf("failed to locate application default credentials: %w", err)
			}
			withCreds := option.WithCredentials(creds)

			assetClient, err := asset.NewClient(ctx, clock, withCreds)
			if err != nil {
				return err
			}
			defer assetClient.Close()

			rmClient, err := resourcemanager.NewClient(ctx, withCreds)
			if err != nil {
				return err
			}
			defer rmClient.Close()

			credClient, err := credentials.NewClient(ctx, withCreds)
			if err != nil {
				return err
			}
			defer credClient.Close()

			repository := catalog.NewPolicyAnalyzerRepository(assetClient, cfg.Scope)

			cat, err := catalog.NewCatalog(repository, rmClient.SearchProjectIDs, cfg.CatalogOptions())
			if err != nil {
				return err
			}

			provisioner, err := provision.NewProvisioner(rmClient)
			if err != nil {
				return err
			}

			justificationPattern, err := cfg.CompileJustificationPattern()
			if err != nil {
				return err
			}

			m := metrics.New(prometheus.DefaultRegisterer)

			activator := activation.NewActivator(cat, provisioner, clock, m, activation.Options{
				JustificationPattern: justificationPattern,
				JustificationHint:    cfg.JustificationHint,
			})

			tokens, err := token.NewService(ctx, credClient,
				credentials.JWKSURL(cfg.ServiceAccountEmail), clock, m, cfg.TokenOptions())
			if err != nil {
				return err
			}

			template := notify.DefaultTemplate()
			if cfg.Email.TemplatePath != "" {
				template, err = notify.LoadTemplate(cfg.Email.TemplatePath)
				if err != nil {
					return err
				}
			}

			var transports []notify.Transport
			if cfg.Email.Enabled() {
				provider := resend.NewProvider(cfg.Email.APIKey, cfg.Email.From)
				if cfg.Email.ReplyTo != "" {
					provider = resend.NewProvider(cfg.Email.APIKey, cfg.Email.From, cfg.Email.ReplyTo)
				}
				transports = append(transports, notify.NewEmailTransport(provider, template))
			} else {
				slog.WarnContext(ctx, "email delivery is not configured, peer approval will be unavailable")
			}
			dispatcher := notify.NewDispatcher(transports...)

			api := web.NewAPI(cat, activator, tokens, dispatcher, clock)

			apiSrv := &http.Server{
				Addr:    mustStringFlag(cmd.Flags(), "http-addr"),
				Handler: api.Handler(),
			}

			go func() {
				slog.InfoContext(ctx, "starting API server",
					slog.String("address", apiSrv.Addr),
					slog.String("scope", cfg.Scope))
				if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.ErrorContext(ctx, "failed to start API server", slog.Any("error", err))
					panic(err)
				}
			}()

			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			metricsSrv := &http.Server{
				Addr:    mustStringFlag(cmd.Flags(), "metrics-addr"),
				Handler: metricsMux,
			}

			go func() {
				slog.InfoContext(ctx, "starting metrics server", slog.String("address", metricsSrv.Addr))
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.ErrorContext(ctx, "failed to start metrics server", slog.Any("error", err))
					panic(err)
				}
			}()

			<-ctx.Done()

			slog.Info("shutting down")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancelShutdown()
			if err := apiSrv.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to shut down API server", slog.Any("error", err))
			}
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to shut down metrics server", slog.Any("error", err))
			}
			if err := flushTraces(shutdownCtx); err != nil {
				slog.Error("failed to flush traces", slog.Any("error", err))
			}
			return nil
		},
	}

	cmd.Flags().String("config", "/etc/jitaccess/config.yaml", "Path to the configuration file")
	cmd.Flags().String("http-addr", ":8080", "The listen address to use for the API service")
	cmd.Flags().String("metrics-addr", ":9000", "The listen address to use for the metrics service")

	return cmd
}
