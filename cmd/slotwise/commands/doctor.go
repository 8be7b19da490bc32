package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/slotwise/internal/config"
	"github.com/marcus/slotwise/internal/db"
	"github.com/marcus/slotwise/internal/globalctx"
	"github.com/marcus/slotwise/internal/oracle"
	"github.com/marcus/slotwise/internal/scheduler"
)

type checkStatus string

const (
	statusOK   checkStatus = "OK"
	statusWarn checkStatus = "WARN"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	name   string
	status checkStatus
	detail string
}

type addFunc func(name string, status checkStatus, detail string)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check slotwise configuration and environment",
	Long: `Run diagnostics on config, database, oracle, scheduler and optional
integrations. Each component is reported healthy or degraded.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var results []checkResult
	add := func(name string, status checkStatus, detail string) {
		results = append(results, checkResult{name: name, status: status, detail: detail})
	}

	cfg, err := config.Load()
	if err != nil {
		add("config", statusFail, err.Error())
		printDoctorResults(os.Stdout, results)
		return fmt.Errorf("config load failed")
	}
	add("config", statusOK, "loaded")

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	database, err := db.Open(cfg.ExpandedDBPath())
	if err != nil {
		add("db", statusFail, err.Error())
		printDoctorResults(os.Stdout, results)
		return fmt.Errorf("db open failed")
	}
	defer func() { _ = database.Close() }()
	checkDatabase(ctx, database, add)

	a := &app{cfg: cfg, db: database, global: globalctx.NewStore(database)}
	oc, err := a.oracleConfig(ctx)
	if err != nil {
		add("oracle", statusFail, err.Error())
	} else {
		checkOracle(oc, add)
	}

	checkSchedule(cfg, time.Now(), add)
	checkDaemon(add)
	checkAudit(cfg, add)
	checkCalendar(cfg, add)

	printDoctorResults(os.Stdout, results)
	if hasFailure(results) {
		return fmt.Errorf("doctor found failures")
	}
	return nil
}

func checkDatabase(ctx context.Context, database *db.DB, add addFunc) {
	if err := database.Ping(ctx); err != nil {
		add("db", statusFail, err.Error())
		return
	}
	version, err := db.CurrentVersion(database.SQL())
	if err != nil {
		add("db", statusWarn, fmt.Sprintf("%s (schema version unknown: %v)", database.Path(), err))
		return
	}
	add("db", statusOK, fmt.Sprintf("%s (schema v%d)", database.Path(), version))
}

func checkOracle(oc oracle.Config, add addFunc) {
	add("oracle.provider", statusOK, string(oc.Provider))
	if oc.Model == "" {
		add("oracle.model", statusFail, "no model configured (oracle.model or settings)")
	} else {
		add("oracle.model", statusOK, oc.Model)
	}

	if oc.Provider == oracle.ProviderOllama {
		return
	}
	if oc.ResolveAPIKey() == "" {
		add("oracle.api_key", statusFail, "no API key in config or environment; tasks will only get fallback windows")
		return
	}
	add("oracle.api_key", statusOK, "present")
}

func checkSchedule(cfg *config.Config, now time.Time, add addFunc) {
	if !cfg.Scheduler.Enabled {
		add("scheduler", statusWarn, "disabled (scheduler.enabled=false)")
		return
	}
	sched, err := scheduler.NewFromConfig(cfg)
	if err != nil {
		if errors.Is(err, scheduler.ErrNoSchedule) {
			add("scheduler", statusWarn, "no schedule configured (cron or interval)")
			return
		}
		add("scheduler", statusFail, err.Error())
		return
	}
	if cfg.Scheduler.Cron != "" {
		add("scheduler", statusOK, fmt.Sprintf("cron %q, next run %s", cfg.Scheduler.Cron, sched.NextRunAfter(now).Format("2006-01-02 15:04")))
		return
	}
	add("scheduler", statusOK, fmt.Sprintf("every %s", cfg.SchedulerInterval()))
}

func checkDaemon(add addFunc) {
	pid, err := readPidFile()
	if err != nil {
		add("daemon", statusWarn, "not running (pid file missing)")
		return
	}
	if isProcessRunning(pid) {
		add("daemon", statusOK, fmt.Sprintf("running (pid %d)", pid))
	} else {
		add("daemon", statusWarn, "pid file present but process not running")
	}
}

func checkAudit(cfg *config.Config, add addFunc) {
	if !cfg.Audit.Enabled {
		add("audit", statusWarn, "JSONL audit disabled")
		return
	}
	dir := config.ExpandPath(cfg.Audit.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		add("audit", statusFail, err.Error())
		return
	}
	add("audit", statusOK, dir)
}

func checkCalendar(cfg *config.Config, add addFunc) {
	if !cfg.Calendar.Enabled {
		return
	}
	if cfg.Calendar.CredentialsFile == "" {
		add("calendar", statusFail, "calendar.credentials_file not set")
		return
	}
	if _, err := os.Stat(config.ExpandPath(cfg.Calendar.CredentialsFile)); err != nil {
		add("calendar", statusFail, err.Error())
		return
	}
	add("calendar", statusOK, fmt.Sprintf("mirroring to %s", cfg.Calendar.CalendarID))
}

func hasFailure(results []checkResult) bool {
	for _, r := range results {
		if r.status == statusFail {
			return true
		}
	}
	return false
}

func printDoctorResults(w io.Writer, results []checkResult) {
	fmt.Fprintln(w, "Slotwise doctor")
	fmt.Fprintln(w, "===============")
	for _, r := range results {
		fmt.Fprintf(w, "[%-4s] %-16s %s\n", r.status, r.name, r.detail)
	}
	overall := "healthy"
	for _, r := range results {
		if r.status != statusOK {
			overall = "degraded"
			break
		}
	}
	fmt.Fprintf(w, "\nOverall: %s\n", overall)
}
