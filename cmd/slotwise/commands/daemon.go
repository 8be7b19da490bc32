package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/slotwise/internal/planner"
	"github.com/marcus/slotwise/internal/scheduler"
)

const pidFileName = "slotwise.pid"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background scheduler",
	Long:  `Start, stop, or check status of the slotwise background scheduler.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background scheduler",
	Long: `Start the slotwise daemon as a background process.

Each tick assigns windows to new tasks, reprioritizes open tasks when
anything was scheduled, and reschedules tasks whose window lapsed.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background scheduler",
	Long:  `Stop the running slotwise daemon by sending SIGTERM.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE:  runDaemonStatus,
}

var daemonForegroundFlag bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "slotwise", pidFileName)
}

func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePidFile() error {
	return os.Remove(pidFilePath())
}

// isProcessRunning sends signal 0; on Unix FindProcess always succeeds.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cmd)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}
	child := exec.Command(executable, "daemon", "start", "--foreground")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	fmt.Printf("daemon started (pid %d)\n", child.Process.Pid)
	return nil
}

func runDaemonLoop(cmd *cobra.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log.WithComponent("daemon")

	if !a.cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler disabled in config (scheduler.enabled=false)")
	}

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = removePidFile() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := a.planner(ctx)
	if err != nil {
		return err
	}

	sched, err := scheduler.NewFromConfig(a.cfg)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.AddJob(func(jobCtx context.Context) error {
		_, err := p.Tick(jobCtx)
		return err
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	// Run once at startup rather than waiting a full period.
	sched.Trigger()

	log.InfoCtx("daemon running", map[string]any{
		"pid":      os.Getpid(),
		"next_run": sched.NextRun().Format(time.RFC3339),
	})

	<-ctx.Done()
	log.Info("shutting down")

	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		log.Errorf("stopping scheduler: %v", err)
	}
	log.InfoCtx("daemon stopped", map[string]any{
		"runs":    sched.Runs(),
		"skipped": sched.Skipped(),
	})
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		if pid != 0 {
			_ = removePidFile()
		}
		fmt.Println("daemon not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	for range 50 {
		time.Sleep(100 * time.Millisecond)
		if !isProcessRunning(pid) {
			fmt.Printf("daemon stopped (pid %d)\n", pid)
			return nil
		}
	}
	return fmt.Errorf("daemon (pid %d) did not exit within 5s", pid)
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if running {
		fmt.Printf("daemon running (pid %d)\n", pid)
		return nil
	}
	fmt.Println("daemon not running")
	return nil
}

// printReport writes a tick summary for foreground commands.
func printReport(r planner.Report) {
	fmt.Printf("Tick %s finished in %s\n", r.TickID, r.Duration.Round(time.Millisecond))
	fmt.Printf("  scheduled:     %d (fallback %d)\n", r.Scheduled, r.FellBack)
	fmt.Printf("  rescheduled:   %d\n", r.Rescheduled)
	fmt.Printf("  reprioritized: %d\n", r.Reprioritized)
	if r.Skipped > 0 || r.Failed > 0 {
		fmt.Printf("  skipped:       %d\n", r.Skipped)
		fmt.Printf("  failed:        %d\n", r.Failed)
	}
}
