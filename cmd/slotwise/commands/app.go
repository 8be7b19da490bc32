package commands

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cobra"

	"github.com/marcus/slotwise/internal/audit"
	"github.com/marcus/slotwise/internal/calendar"
	"github.com/marcus/slotwise/internal/config"
	"github.com/marcus/slotwise/internal/db"
	"github.com/marcus/slotwise/internal/globalctx"
	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/oracle"
	"github.com/marcus/slotwise/internal/planner"
	"github.com/marcus/slotwise/internal/policy"
	"github.com/marcus/slotwise/internal/reprioritize"
	"github.com/marcus/slotwise/internal/service"
	"github.com/marcus/slotwise/internal/tasks"
)

// app holds the wired components shared by commands.
type app struct {
	cfg    *config.Config
	db     *db.DB
	store  *tasks.Store
	global *globalctx.Store
	calls  *audit.DBSink
	sink   audit.Sink
	file   *audit.FileLogger
	policy *policy.Policy
	svc    *service.Service
	mirror *calendar.Mirror
	log    *logging.Logger
}

// openApp loads config, starts logging and opens the database.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	if err := initLogging(cfg, verbose); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	database, err := db.Open(cfg.ExpandedDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	a := &app{
		cfg:    cfg,
		db:     database,
		global: globalctx.NewStore(database),
		calls:  audit.NewDBSink(database),
		policy: policy.New(policy.ConfigFrom(cfg)),
		log:    logging.Component("cli"),
	}

	sinks := audit.Multi{a.calls}
	if cfg.Audit.Enabled {
		file, err := audit.NewFileLogger(config.ExpandPath(cfg.Audit.Path))
		if err != nil {
			a.log.Err(err).Msg("audit file disabled")
		} else {
			a.file = file
			sinks = append(sinks, audit.FileSink{File: file, Log: logging.Component("audit")})
		}
	}
	a.sink = sinks
	a.store = tasks.NewStore(database, tasks.WithRecorder(sinks))

	var svcOpts []service.Option
	if cfg.Calendar.Enabled {
		m, err := calendar.New(cmd.Context(), cfg.Calendar)
		if err != nil {
			a.log.Err(err).Msg("calendar mirror disabled")
		} else {
			a.mirror = m
			svcOpts = append(svcOpts, service.WithMirror(m))
		}
	}
	a.svc = service.New(a.store, a.policy, svcOpts...)
	return a, nil
}

func (a *app) Close() {
	if a.file != nil {
		_ = a.file.Close()
	}
	_ = a.db.Close()
}

func initLogging(cfg *config.Config, verbose bool) error {
	return logging.Init(logging.Config{
		Level:         cfg.Logging.Level,
		Path:          config.ExpandPath(cfg.Logging.Path),
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
		Stderr:        verbose,
	})
}

// oracleConfig merges the settings row over the file config.
func (a *app) oracleConfig(ctx context.Context) (oracle.Config, error) {
	provider, err := oracle.ValidateProvider(a.cfg.Oracle.Provider)
	if err != nil {
		return oracle.Config{}, err
	}
	oc := oracle.Config{
		Provider: provider,
		Model:    a.cfg.Oracle.Model,
		APIKey:   a.cfg.Oracle.APIKey,
		BaseURL:  a.cfg.Oracle.BaseURL,
		Timeout:  a.cfg.OracleTimeout(),
	}
	settings, err := a.global.Settings(ctx)
	if err != nil {
		return oracle.Config{}, fmt.Errorf("loading settings: %w", err)
	}
	if settings.LLMModel != "" {
		oc.Model = settings.LLMModel
	}
	oc.MaxTokens = settings.MaxTokens
	return oc, nil
}

func (a *app) chatModel(ctx context.Context) (model.BaseChatModel, oracle.Config, error) {
	oc, err := a.oracleConfig(ctx)
	if err != nil {
		return nil, oc, err
	}
	m, err := oracle.NewChatModel(ctx, oc)
	if err != nil {
		return nil, oc, fmt.Errorf("creating chat model: %w", err)
	}
	return m, oc, nil
}

// planner wires the oracle, the reprioritization engine and the optional
// calendar mirror into one tick runner.
func (a *app) planner(ctx context.Context) (*planner.Planner, error) {
	m, oc, err := a.chatModel(ctx)
	if err != nil {
		return nil, err
	}
	o := oracle.NewLLMOracle(m,
		oracle.WithTimeout(oc.Timeout),
		oracle.WithMaxTokens(oc.MaxTokens),
		oracle.WithSink(a.sink),
	)

	engine := reprioritize.New(a.store, a.global, func(ctx context.Context, req oracle.PriorityRequest) (map[int64]float64, error) {
		return a.policy.Priorities(ctx, o, req)
	})

	var opts []planner.Option
	if a.mirror != nil {
		opts = append(opts, planner.WithListener(a.mirror))
	}
	return planner.New(a.store, a.global, o, a.policy, engine, opts...), nil
}
