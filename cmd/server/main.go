package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"attendguard/internal/attendance"
	attendancehandler "attendguard/internal/attendance/handler"
	attendancemetrics "attendguard/internal/attendance/metrics"
	attendancememory "attendguard/internal/attendance/store/memory"
	attendancepostgres "attendguard/internal/attendance/store/postgres"
	"attendguard/internal/biometric"
	biometrichandler "attendguard/internal/biometric/handler"
	"attendguard/internal/biometric/matcher"
	biometricmemory "attendguard/internal/biometric/store/memory"
	biometricpostgres "attendguard/internal/biometric/store/postgres"
	biometricredis "attendguard/internal/biometric/store/redis"
	"attendguard/internal/device"
	devicememory "attendguard/internal/device/store/memory"
	devicepostgres "attendguard/internal/device/store/postgres"
	"attendguard/internal/ledger"
	"attendguard/internal/ledger/forwarder"
	ledgermemory "attendguard/internal/ledger/store/memory"
	ledgerpostgres "attendguard/internal/ledger/store/postgres"
	"attendguard/internal/platform/adminauth"
	"attendguard/internal/platform/config"
	"attendguard/internal/platform/httpserver"
	"attendguard/internal/platform/kafka"
	"attendguard/internal/platform/logger"
	"attendguard/internal/platform/metrics"
	"attendguard/internal/platform/postgres"
	"attendguard/internal/platform/redis"
	"attendguard/internal/qrcredential"
	qrhandler "attendguard/internal/qrcredential/handler"
	"attendguard/internal/timepolicy"
	timepolicypostgres "attendguard/internal/timepolicy/store/postgres"
	httptransport "attendguard/internal/transport/http"
	"attendguard/pkg/platform/circuit"
)

const startupTimeout = 30 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("attendguard stopped with error", "error", err)
		os.Exit(1)
	}
}

// infra holds the optional backing services. Nil fields fall back to
// in-memory implementations.
type infra struct {
	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func (i *infra) close() {
	if i.producer != nil {
		i.producer.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	in := &infra{}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		in.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			in.close()
			return nil, err
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		in.close()
		return nil, err
	}
	in.redis = rc

	producer, err := kafka.NewProducer(kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.AuditTopic,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		in.close()
		return nil, err
	}
	if producer != nil {
		in.producer = producer
		if err := producer.EnsureTopic(ctx, -1, -1); err != nil {
			log.Warn("audit topic provisioning failed", "topic", producer.Topic(), "error", err)
		}
	}
	return in, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	in, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close()

	reg := metrics.NewRegistry()
	health := map[string]httptransport.HealthCheck{}

	// Ledger, optionally forwarding to Kafka.
	var ledgerStore ledger.Store = ledgermemory.NewInMemoryStore(cfg.Audit.MaxEntries)
	if in.db != nil {
		ledgerStore = ledgerpostgres.New(in.db, cfg.Audit.MaxEntries)
		health["postgres"] = in.db.PingContext
	}
	ledgerOpts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithMetrics(ledger.NewMetrics(reg)),
		ledger.WithQueryLimit(cfg.Audit.QueryLimit),
	}
	var fwd *forwarder.Forwarder
	if in.producer != nil {
		fwd = forwarder.New(forwarder.NewKafkaSink(in.producer), cfg.Kafka.BufferSize,
			forwarder.WithLogger(log),
			forwarder.WithMetrics(forwarder.NewMetrics(reg)),
		)
		ledgerOpts = append(ledgerOpts, ledger.WithPublisher(fwd))
		health["kafka"] = in.producer.Health
	}
	auditLedger, err := ledger.New(ledgerStore, ledgerOpts...)
	if err != nil {
		return err
	}

	// Device trust.
	var deviceStore device.Store = devicememory.NewInMemoryStore()
	if in.db != nil {
		deviceStore = devicepostgres.New(in.db)
	}
	devices, err := device.New(deviceStore, auditLedger, device.WithLogger(log))
	if err != nil {
		return err
	}

	// Time policy, with overrides and holidays from Postgres when available.
	policyOpts := []timepolicy.Option{
		timepolicy.WithLocation(cfg.Attendance.Location),
		timepolicy.WithLogger(log),
	}
	if in.db != nil {
		tp := timepolicypostgres.New(in.db)
		policyOpts = append(policyOpts, timepolicy.WithOverrides(tp), timepolicy.WithCalendar(tp))
	}
	timePolicy := timepolicy.New(cfg.Attendance.Policy, policyOpts...)

	codec := qrcredential.New(
		qrcredential.WithExpiryWindow(cfg.QR.ExpiryWindow),
		qrcredential.WithLocation(cfg.Attendance.Location),
	)

	var (
		directory attendance.EmployeeDirectory
		records   attendance.RecordStore
	)
	if in.db != nil {
		store := attendancepostgres.New(in.db)
		directory, records = store, store
	} else {
		directory, records = attendancememory.NewDirectory(), attendancememory.NewRecordStore()
	}

	serviceOpts := []attendance.Option{
		attendance.WithLogger(log),
		attendance.WithMetrics(attendancemetrics.New(reg)),
		attendance.WithCredentialDecoder(codec),
		attendance.WithFingerprinter(device.NewFingerprinter(cfg.Attendance.UAFingerprint)),
	}

	var biometrics *biometric.Service
	switch {
	case !cfg.Biometric.Enabled:
	case cfg.Biometric.Secret == "":
		log.Warn("BIOMETRIC_SECRET not set, biometric verification disabled")
	default:
		biometrics, err = newBiometricService(cfg, in, auditLedger, reg, log)
		if err != nil {
			return err
		}
		serviceOpts = append(serviceOpts, attendance.WithBiometrics(biometrics))
		if in.redis != nil {
			health["redis"] = in.redis.Health
		}
	}

	svc, err := attendance.New(directory, records, auditLedger, devices, timePolicy, serviceOpts...)
	if err != nil {
		return err
	}

	attendanceHTTP := attendancehandler.New(svc, auditLedger, log)
	qrHTTP := qrhandler.New(codec, directory, auditLedger, log)
	deps := httptransport.Deps{
		Logger:         log,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Public:         []httptransport.Registrar{attendanceHTTP},
		Admin:          []httptransport.AdminRegistrar{attendanceHTTP, qrHTTP},
		Metrics:        metrics.Handler(reg),
		HealthChecks:   health,
	}
	if cfg.Server.JWTSigningKey == "" {
		log.Warn("JWT_SIGNING_KEY not set, admin routes disabled")
	} else {
		admin, err := adminauth.NewService(cfg.Server.JWTSigningKey, cfg.Server.AdminIssuer, cfg.Server.AdminAudience)
		if err != nil {
			return err
		}
		deps.AdminValidator = admin
	}
	if biometrics != nil {
		biometricHTTP := biometrichandler.New(biometrics, log)
		deps.Public = append(deps.Public, biometricHTTP)
		deps.Admin = append(deps.Admin, biometricHTTP)
	}

	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting attendguard",
			"addr", cfg.Server.Addr,
			"postgres", in.db != nil,
			"redis", in.redis != nil,
			"kafka", in.producer != nil,
			"biometric", biometrics != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if fwd != nil {
		g.Go(func() error {
			return fwd.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down", "pending_audit_forwards", pending(fwd))
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newBiometricService(cfg config.Config, in *infra, auditor biometric.Auditor, reg prometheus.Registerer, log *slog.Logger) (*biometric.Service, error) {
	key, err := biometric.DeriveKey([]byte(cfg.Biometric.Secret))
	if err != nil {
		return nil, fmt.Errorf("biometric enabled: %w", err)
	}

	var store biometric.Store
	switch {
	case in.redis != nil:
		store = biometricredis.New(in.redis.Client)
	case in.db != nil:
		store = biometricpostgres.New(in.db)
	default:
		store = biometricmemory.NewInMemoryStore()
	}

	opts := []biometric.Option{
		biometric.WithLogger(log),
		biometric.WithPolicy(cfg.Biometric.Policy),
		biometric.WithMetrics(biometric.NewMetrics(reg)),
	}
	if cfg.Biometric.MatcherURL != "" {
		opts = append(opts, biometric.WithMatcher(matcher.New(cfg.Biometric.MatcherURL,
			matcher.WithHTTPClient(&http.Client{Timeout: cfg.Biometric.MatcherTimeout}),
			matcher.WithBreaker(circuit.New("face-matcher")),
			matcher.WithLogger(log),
		)))
	}
	return biometric.New(store, auditor, key, opts...)
}

func pending(f *forwarder.Forwarder) int {
	if f == nil {
		return 0
	}
	return f.Pending()
}
