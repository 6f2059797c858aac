// Reclaim controller client.
//
// Connects to a Reclaim Energy heat-pump controller through the vendor's
// cloud broker, keeps a local history of its state and forwards telemetry.
//
// Usage:
//
//	reclaim                          run the client until interrupted
//	reclaim validate <id> [width]    check a device identifier and print its topics
//	reclaim attributes               list the register map
//	reclaim set <attribute> <value>  write one attribute and wait for the acknowledgement
//	reclaim history [limit]          print recorded states, newest first
//	reclaim token <subject> [role]   mint a local API token (viewer or operator)
//
// The configuration file is read from RECLAIM_CONFIG, or configs/config.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/david-collett/reclaimenergy/internal/api"
	"github.com/david-collett/reclaimenergy/internal/auth"
	"github.com/david-collett/reclaimenergy/internal/coordinator"
	"github.com/david-collett/reclaimenergy/internal/device"
	"github.com/david-collett/reclaimenergy/internal/infrastructure/config"
	"github.com/david-collett/reclaimenergy/internal/infrastructure/database"
	"github.com/david-collett/reclaimenergy/internal/infrastructure/influxdb"
	"github.com/david-collett/reclaimenergy/internal/infrastructure/logging"
	"github.com/david-collett/reclaimenergy/internal/infrastructure/mqtt"
	"github.com/david-collett/reclaimenergy/internal/reclaim"
	"github.com/david-collett/reclaimenergy/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when RECLAIM_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// pruneInterval is how often old history rows are deleted.
	pruneInterval = time.Hour

	// setTimeout bounds the whole set command, connection included.
	setTimeout = 60 * time.Second

	// defaultHistoryRows is the history command's default limit.
	defaultHistoryRows = 20
)

// errUsage marks a bad command line.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run dispatches the command line, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//   - out: Destination for command output
//
// Returns:
//   - error: nil on success or clean shutdown
func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return runDaemon(ctx)
	}

	switch args[0] {
	case "run":
		return runDaemon(ctx)
	case "validate":
		return runValidate(args[1:], out)
	case "attributes":
		return runAttributes(out)
	case "set":
		return runSet(ctx, args[1:], out)
	case "history":
		return runHistory(ctx, args[1:], out)
	case "token":
		return runToken(args[1:], out)
	case "version":
		fmt.Fprintf(out, "reclaim %s (commit %s, built %s)\n", version, commit, date)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

// getConfigPath returns the configuration file path.
// Uses RECLAIM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RECLAIM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration and builds the configured logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// =============================================================================
// Daemon
// =============================================================================

// runDaemon connects to the controller and runs until ctx is cancelled.
func runDaemon(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting reclaim client",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", getConfigPath())

	id, err := reclaim.ParseIdentifier(cfg.Device.Identifier, cfg.Device.ChecksumWidth)
	if err != nil {
		return fmt.Errorf("device identifier: %w", err)
	}
	topics := id.Topics()
	log.Info("device identified",
		"device_id", id.DeviceHex(),
		"status_topic", topics.Status(),
		"command_topic", topics.Command(),
	)

	coordCfg := coordinator.Config{
		DeviceID:     id.DeviceHex(),
		FastInterval: cfg.GetFastInterval(),
		SlowInterval: cfg.GetSlowInterval(),
		Logger:       log.With("component", "coordinator"),
	}

	// Open database for state history (optional)
	var db *database.DB
	var historyRepo *device.SQLiteStateHistoryRepository
	if cfg.History.Enabled {
		db, historyRepo, err = openHistory(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("state history enabled",
			"path", cfg.Database.Path,
			"retention_days", cfg.History.RetentionDays,
		)
		coordCfg.History = historyRepo
	} else {
		log.Info("state history disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, id.DeviceHex())
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		coordCfg.Telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	session, err := newSession(cfg, id, log)
	if err != nil {
		return err
	}
	coordCfg.Client = session

	coord, err := coordinator.New(coordCfg)
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}
	coord.OnUpdate(func(state reclaim.DeviceState) {
		log.Debug("state received",
			"kind", state.Kind().String(),
			"registers", state.Len(),
		)
	})

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	defer func() {
		log.Info("stopping coordinator")
		coord.Stop()
	}()
	log.Info("session started",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
	)

	if historyRepo != nil {
		go pruneLoop(ctx, historyRepo, cfg.GetRetention(), log)
	}

	// Start local API server (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			Logger:   log.With("component", "api"),
			DeviceID: id.DeviceHex(),
			State:    coord,
			Version:  version,
		}
		if historyRepo != nil {
			deps.History = historyRepo
		}
		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		coord.OnUpdate(apiServer.BroadcastState)
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("local API disabled")
	}

	if err := healthCheck(ctx, db, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order:
	// 1. API server (if enabled)
	// 2. Coordinator and session
	// 3. InfluxDB (if enabled)
	// 4. Database (if enabled)

	return nil
}

// openHistory opens the database, applies migrations and returns the
// history repository.
func openHistory(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, *device.SQLiteStateHistoryRepository, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, device.NewSQLiteStateHistoryRepository(db.DB), nil
}

// newSession builds the mTLS dialer and the controller session.
func newSession(cfg *config.Config, id reclaim.Identifier, log *logging.Logger) (*reclaim.Session, error) {
	dialer, err := mqtt.NewDialer(cfg.Broker, log.With("component", "mqtt"))
	if err != nil {
		return nil, fmt.Errorf("preparing broker connection: %w", err)
	}

	session, err := reclaim.NewSession(reclaim.SessionOptions{
		Identifier: id,
		Dialer:     reclaim.MQTTDialer(dialer),
		Logger:     log.With("component", "session"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return session, nil
}

// pruneLoop deletes history older than retention once an hour.
func pruneLoop(ctx context.Context, repo device.StateHistoryRepository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.PruneHistory(ctx, retention)
			if err != nil {
				log.Warn("history prune failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("history pruned", "deleted", deleted)
			}
		}
	}
}

// healthCheck verifies the local infrastructure is healthy.
//
// The broker session is not checked: it connects in the background and
// retries until it succeeds.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if history is disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - apiServer: API server to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, apiServer *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}

// =============================================================================
// Commands
// =============================================================================

// runValidate checks an identifier and prints its wire names.
func runValidate(args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: reclaim validate <identifier> [width]", errUsage)
	}

	width := reclaim.DefaultChecksumWidth
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: width must be a number", errUsage)
		}
		width = n
	}

	id, err := reclaim.ParseIdentifier(strings.TrimSpace(args[0]), width)
	if err != nil {
		fmt.Fprintf(out, "%s: invalid\n", args[0])
		return err
	}

	topics := id.Topics()
	fmt.Fprintf(out, "%s: valid\n", id)
	fmt.Fprintf(out, "device:  %s\n", id.DeviceHex())
	fmt.Fprintf(out, "status:  %s\n", topics.Status())
	fmt.Fprintf(out, "command: %s\n", topics.Command())
	return nil
}

// runAttributes prints the register map.
func runAttributes(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tATTRIBUTE\tKIND\tACCESS\tVALUES")
	for _, r := range reclaim.Registers() {
		access := "ro"
		if r.Writable() {
			access = "rw"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.Address, r.Attribute, r.Kind, access, strings.Join(r.Labels, ","))
	}
	return w.Flush()
}

// runSet connects, writes one attribute and waits for the controller to
// acknowledge it.
func runSet(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: reclaim set <attribute> <value>", errUsage)
	}

	attr, err := reclaim.ParseAttribute(args[0])
	if err != nil {
		return err
	}
	reg, err := reclaim.Lookup(attr)
	if err != nil {
		return err
	}
	if !reg.Writable() {
		return fmt.Errorf("%w: %s", reclaim.ErrReadOnlyAttribute, attr)
	}
	value, err := reg.ParseValue(args[1])
	if err != nil {
		return err
	}
	// Fail on bad values before touching the network.
	if _, err := reg.Encode(value); err != nil {
		return err
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := reclaim.ParseIdentifier(cfg.Device.Identifier, cfg.Device.ChecksumWidth)
	if err != nil {
		return fmt.Errorf("device identifier: %w", err)
	}
	session, err := newSession(cfg, id, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, setTimeout)
	defer cancel()

	return setAndWait(ctx, session, reg, value, out)
}

// setAndWait waits for the first snapshot (the session requests one on
// connect), sends the write, then waits for the acknowledgement delta.
func setAndWait(ctx context.Context, client coordinator.Client, reg reclaim.Register, value any, out io.Writer) error {
	states := make(chan reclaim.DeviceState, 16)
	if err := client.Connect(func(s reclaim.DeviceState) {
		select {
		case states <- s:
		default:
		}
	}); err != nil {
		return err
	}
	defer client.Disconnect()

	if err := waitFor(ctx, states, func(s reclaim.DeviceState) bool {
		return s.Kind() == reclaim.Snapshot
	}); err != nil {
		return fmt.Errorf("waiting for controller: %w", err)
	}

	if err := client.SetValue(ctx, reg.Attribute, value); err != nil {
		return err
	}

	if err := waitFor(ctx, states, func(s reclaim.DeviceState) bool {
		_, ok := s.Raw(reg.Address)
		return s.Kind() == reclaim.Delta && ok
	}); err != nil {
		return fmt.Errorf("waiting for acknowledgement: %w", err)
	}

	fmt.Fprintf(out, "%s = %v\n", reg.Attribute, value)
	return nil
}

func waitFor(ctx context.Context, states <-chan reclaim.DeviceState, match func(reclaim.DeviceState) bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-states:
			if match(s) {
				return nil
			}
		}
	}
}

// runHistory prints recorded states from the local database.
func runHistory(ctx context.Context, args []string, out io.Writer) error {
	limit := defaultHistoryRows
	if len(args) > 1 {
		return fmt.Errorf("%w: reclaim history [limit]", errUsage)
	}
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("%w: limit must be a positive number", errUsage)
		}
		limit = n
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := reclaim.ParseIdentifier(cfg.Device.Identifier, cfg.Device.ChecksumWidth)
	if err != nil {
		return fmt.Errorf("device identifier: %w", err)
	}

	db, repo, err := openHistory(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-only command

	entries, err := repo.GetHistory(ctx, id.DeviceHex(), limit)
	if err != nil {
		return err
	}
	return printHistory(out, entries)
}

func printHistory(out io.Writer, entries []device.StateHistoryEntry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tVALUES")
	for _, e := range entries {
		values, _ := e.State.Values() //nolint:errcheck // Undecodable attributes are omitted
		pairs := make([]string, 0, len(values))
		for _, r := range reclaim.Registers() {
			if v, ok := values[r.Attribute]; ok {
				pairs = append(pairs, fmt.Sprintf("%s=%v", r.Attribute, v))
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.State.Kind(), strings.Join(pairs, " "))
	}
	return w.Flush()
}

// runToken mints a bearer token for the local API.
func runToken(args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: reclaim token <subject> [viewer|operator]", errUsage)
	}
	role := auth.RoleViewer
	if len(args) == 2 {
		r, err := auth.ParseRole(args[1])
		if err != nil {
			return fmt.Errorf("%w: role must be viewer or operator", errUsage)
		}
		role = r
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is not set (set RECLAIM_API_JWT_SECRET environment variable)")
	}

	token, err := auth.GenerateToken(args[0], role, cfg.API.JWTSecret, cfg.GetTokenTTL())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
