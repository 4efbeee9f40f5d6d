package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appAccount "github.com/Zhima-Mochi/otpbroker/internal/application/account"
	appNotify "github.com/Zhima-Mochi/otpbroker/internal/application/notify"
	appOrder "github.com/Zhima-Mochi/otpbroker/internal/application/order"
	"github.com/Zhima-Mochi/otpbroker/internal/config"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/access"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/ewallet"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/filestore"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/httpclient"
	notifysink "github.com/Zhima-Mochi/otpbroker/internal/infrastructure/notify"
	infraobs "github.com/Zhima-Mochi/otpbroker/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/provider/smsvirtual"
	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/scheduler"
	"github.com/Zhima-Mochi/otpbroker/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/otpbroker/internal/presentation/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		zap.NewExample().Fatal("config_load_failed", zap.Error(err))
	}

	baseLogger := logging.MustNewLogger(logging.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := infraobs.New(
		oteltrace.New(cfg.ServiceName),
		zaplogger.New(baseLogger),
		infraobs.DefaultInstruments(prometrics.New(registry, "", "")),
	)

	providerHTTP := httpclient.New(httpclient.Options{
		BaseURL: cfg.ProviderBaseURL,
		Headers: map[string]string{smsvirtual.APIKeyHeader: cfg.APIKey},
		Target:  "smsvirtual",
	}, tel)
	smsProvider := smsvirtual.New(providerHTTP)

	orderRepo, err := filestore.OpenOrderRepository(cfg.OrderStorePath, filestore.WithLocation(cfg.Location()))
	if err != nil {
		systemLogger.Fatal("order_store_open_failed", zap.Error(err))
	}
	catalog, err := filestore.OpenCatalog(cfg.CatalogPath)
	if err != nil {
		systemLogger.Fatal("catalog_open_failed", zap.Error(err))
	}
	auditLog := filestore.NewAuditLog(cfg.AuditLogPath)
	completionLog := filestore.NewCompletionLog(cfg.CompletionDir)
	authorizer := access.New(access.ParseIDs(cfg.AuthorizedIDs), access.ParseIDs(cfg.AdminIDs))

	// In-memory event bus carries notifications to the delivery sinks
	bus := outbox.NewBus(tel)
	sinks := []appNotify.Sink{notifysink.NewLogSink(zaplogger.New(baseLogger))}
	if cfg.WebhookURL != "" {
		webhookHTTP := httpclient.New(httpclient.Options{Target: "webhook"}, tel)
		sinks = append(sinks, notifysink.NewWebhookSink(webhookHTTP, cfg.WebhookURL))
	}
	notifyWorker := appNotify.NewWorker(bus, tel, sinks...)
	notifyWorker.Start()
	bus.Start(context.Background())
	notifier := appNotify.NewPublisher(bus)

	var validator appOrder.Validator
	if cfg.EwalletURL != "" {
		ewalletHTTP := httpclient.New(httpclient.Options{Target: "ewallet"}, tel)
		validator = ewallet.New(ewalletHTTP, ewallet.Options{
			URL:          cfg.EwalletURL,
			AccountTypes: cfg.EwalletAccountTypes,
		}, zaplogger.New(baseLogger))
	}

	sched := scheduler.New(tel)

	timings := appOrder.DefaultTimings()
	timings.PollCadence = cfg.PollCadence
	timings.MaxPollCycles = cfg.MaxPollCycles
	timings.ProvisionalCancel = cfg.ProvisionalCancel
	timings.NoSMSTimeout = cfg.NoSMSTimeout
	timings.CancelGrace = cfg.CancelGrace

	lifecycle := appOrder.NewLifecycle(appOrder.LifecycleDeps{
		Repo:        orderRepo,
		Provider:    smsProvider,
		Scheduler:   sched,
		Notifier:    notifier,
		Authorizer:  authorizer,
		Audit:       auditLog,
		Completions: completionLog,
	}, timings, tel)
	createOrder := appOrder.NewCreateOrderUseCase(appOrder.CreateDeps{
		Provider:   smsProvider,
		Repo:       orderRepo,
		Catalog:    catalog,
		Validator:  validator,
		Authorizer: authorizer,
		Audit:      auditLog,
		Notifier:   notifier,
		Lifecycle:  lifecycle,
	}, cfg.Country, tel)
	accountService := appAccount.NewService(smsProvider, authorizer, cfg.Country, tel)
	adminService := appAccount.NewAdmin(catalog, authorizer, tel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n, err := lifecycle.Resume(ctx); err != nil {
		systemLogger.Error("orders_resume_failed", zap.Error(err))
	} else {
		systemLogger.Info("orders_resumed", zap.Int("count", n))
	}

	handler := httppresentation.NewHandler(httppresentation.Deps{
		Create:   createOrder,
		Orders:   lifecycle,
		Account:  accountService,
		Admin:    adminService,
		Tasks:    sched,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Location: cfg.Location(),
	}, tel)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			systemLogger.Error("http_server_shutdown_error",
				zap.Error(err),
			)
		} else {
			systemLogger.Info("http_server_stopped")
		}
		if err := sched.Stop(shutdownCtx); err != nil {
			systemLogger.Warn("scheduler_stop_timeout", zap.Error(err))
		}
		bus.Stop(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		systemLogger.Error("http_server_error",
			zap.Error(err),
		)
	}
}
