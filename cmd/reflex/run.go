package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/reflex/internal/checkpoint"
	"github.com/ShayCichocki/reflex/internal/config"
	"github.com/ShayCichocki/reflex/internal/interrupt"
	"github.com/ShayCichocki/reflex/internal/loop"
	"github.com/ShayCichocki/reflex/internal/memory"
	"github.com/ShayCichocki/reflex/internal/plan"
	"github.com/ShayCichocki/reflex/internal/protect"
	"github.com/ShayCichocki/reflex/internal/reflection"
	"github.com/ShayCichocki/reflex/internal/server"
	"github.com/ShayCichocki/reflex/internal/session"
)

// runOptions are the run command flags.
type runOptions struct {
	planPath      string
	mode          string
	interrupts    bool
	source        string
	logOut        string
	serverAddr    string
	maxIterations int
	quiet         bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Run a plan through the supervised loop",
	Long: `Run a scripted plan through the execution loop.

Each step is admitted by the cost governor, validated by the reflection
gate, executed, verified, and recorded. Rejected steps never execute.

Interaction modes (--mode):
  - autonomous:    errors stop the run; steps needing review are skipped
  - supervised:    review steps and continuing after errors need a "continue"
  - collaborative: like supervised, and steps with warnings also ask

While running, signals are read from the configured source:
  pause | continue | stop | goal <text> | context <text> | feedback <text>

Examples:
  reflex run plan.yaml
  reflex run plan.yaml --mode supervised --source file
  reflex run plan.yaml --server :8080 --source http`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runOpts.planPath = args[0]

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := executePlan(ctx, cfg, runOpts, os.Stdout, newLogger(cfg))
		if res != nil && !runOpts.quiet {
			printResult(res)
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runOpts.mode, "mode", "", "Interaction mode: autonomous, supervised, or collaborative (default: loop.mode)")
	runCmd.Flags().BoolVar(&runOpts.interrupts, "interrupts", true, "Apply observer signals between steps")
	runCmd.Flags().StringVar(&runOpts.source, "source", "", "Signal source: stdin, file, redis, http, or none (default: interrupts.source)")
	runCmd.Flags().StringVar(&runOpts.logOut, "log-out", "reflection-log.json", "Write the reflection log here (empty to skip)")
	runCmd.Flags().StringVar(&runOpts.serverAddr, "server", "", "Serve status on this address (default: server.addr)")
	runCmd.Flags().IntVar(&runOpts.maxIterations, "max-iterations", 0, "Override loop.max_iterations")
	runCmd.Flags().BoolVarP(&runOpts.quiet, "quiet", "q", false, "Only print the final reports")
}

// executePlan wires one session and runs the plan to completion.
func executePlan(ctx context.Context, cfg *config.Config, opts runOptions, out io.Writer, logger zerolog.Logger) (*loop.Result, error) {
	p, err := plan.Load(opts.planPath)
	if err != nil {
		return nil, err
	}

	modeName := opts.mode
	if modeName == "" {
		modeName = cfg.Loop.Mode
	}
	mode, err := loop.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	sess := session.New()
	logger = logger.With().Str("session", sess.ID).Logger()
	if err := registerAgents(sess, p); err != nil {
		return nil, err
	}

	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	gov, err := newGovernor(cfg, db, logger, time.Now())
	if err != nil {
		return nil, err
	}

	gate := reflection.NewGate(sess.Locks,
		reflection.WithRuleConfig(reflection.RuleConfig{
			Detector:           protect.New(protect.WithPatterns(cfg.Gate.ProtectedPatterns)),
			DuplicateWindow:    cfg.Gate.DuplicateWindow,
			DuplicateThreshold: cfg.Gate.DuplicateThreshold,
			MaxWriteBytes:      cfg.Gate.MaxWriteBytes,
		}),
		reflection.WithLogger(logger),
	)
	mem := memory.NewCompressor(
		memory.WithThreshold(cfg.Memory.Threshold),
		memory.WithKeepRecent(cfg.Memory.KeepRecent),
		memory.WithSnippetLength(cfg.Memory.SnippetLength),
		memory.WithLogger(logger),
	)
	cps := checkpoint.NewStore(
		checkpoint.WithCapacity(cfg.Checkpoint.Capacity),
		checkpoint.WithInterval(cfg.Checkpoint.Interval),
		checkpoint.WithLogger(logger),
	)
	ch := interrupt.NewChannel()
	defer ch.Close()

	kind := config.SourceNone
	if opts.interrupts {
		kind = opts.source
		if kind == "" {
			kind = cfg.Interrupts.Source
		}
	}
	src, err := openSource(ctx, cfg, kind)
	if err != nil {
		return nil, err
	}
	defer src.close()

	listenCtx, cancelListen := context.WithCancel(ctx)
	defer cancelListen()
	if src.src != nil {
		done := interrupt.Start(listenCtx, src.src, ch, logger)
		go func() {
			if err := <-done; err != nil {
				logger.Warn().Err(err).Msg("signal listener stopped")
			}
		}()
	}

	maxIterations := cfg.Loop.MaxIterations
	if opts.maxIterations > 0 {
		maxIterations = opts.maxIterations
	}
	listening := opts.interrupts && src.src != nil
	script := plan.NewScript(p)
	l := loop.New(script, script,
		loop.WithGate(gate),
		loop.WithGovernor(gov),
		loop.WithMemory(mem),
		loop.WithCheckpoints(cps),
		loop.WithInterrupts(ch),
		loop.WithMode(mode),
		loop.WithMaxIterations(maxIterations),
		loop.WithPollInterval(cfg.Loop.PollInterval),
		loop.WithLogger(logger),
	)

	addr := opts.serverAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	if addr != "" {
		srvCfg := server.Config{
			Addr:        addr,
			Gate:        gate,
			Governor:    gov,
			Checkpoints: cps,
			Status:      func() any { return l.Status() },
			Logger:      logger,
		}
		if src.queue != nil {
			srvCfg.Signals = src.queue
		}
		srv := server.New(srvCfg)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("status server")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", addr).Msg("status server listening")
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range l.Events() {
			if !opts.quiet {
				printEvent(out, ev)
			}
		}
	}()

	res, runErr := l.Run(ctx, p.Goal, listening)
	l.Close()
	<-printed

	if opts.logOut != "" {
		if err := gate.SaveLog(opts.logOut); err != nil {
			return res, errors.Join(runErr, err)
		}
	}

	if !opts.quiet {
		fmt.Fprintln(out)
	}
	if err := gate.Report().WriteSummary(out); err != nil {
		return res, errors.Join(runErr, err)
	}
	fmt.Fprintln(out)
	if err := gov.Report().WriteText(out); err != nil {
		return res, errors.Join(runErr, err)
	}
	return res, runErr
}

func registerAgents(sess *session.Session, p *plan.Plan) error {
	for _, a := range p.Agents {
		if _, err := sess.Agents.Register(a.Name, a.Capabilities, a.Metadata); err != nil {
			return err
		}
	}
	for _, name := range p.AgentNames() {
		if sess.Agents.Get(name) == nil {
			if _, err := sess.Agents.Register(name, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func printEvent(w io.Writer, ev loop.Event) {
	var (
		symbol string
		attr   color.Attribute
	)
	switch ev.Type {
	case loop.EventExecuted:
		symbol, attr = "✓", color.FgGreen
	case loop.EventRejected:
		symbol, attr = "✗", color.FgRed
	case loop.EventBudgetExceeded:
		symbol, attr = "$", color.FgYellow
	case loop.EventSignalApplied:
		symbol, attr = "»", color.FgMagenta
	case loop.EventCheckpoint, loop.EventRollback:
		symbol, attr = "◆", color.FgCyan
	case loop.EventCompacted:
		symbol, attr = "≡", color.FgBlue
	default:
		return
	}
	fmt.Fprintf(w, "%s [%d] %s\n", color.New(attr).Sprint(symbol), ev.Iteration, ev.Message)
}

func printResult(res *loop.Result) {
	fmt.Println()
	switch res.StopReason {
	case loop.StopComplete:
		printStatus("✓", fmt.Sprintf("Completed in %d steps: %s", res.Steps, res.Answer), color.FgGreen)
	case loop.StopStopped, loop.StopCancelled:
		printStatus("■", fmt.Sprintf("Stopped after %d steps (%s)", res.Steps, res.StopReason), color.FgYellow)
	case loop.StopMaxIterations:
		printStatus("⚠", fmt.Sprintf("Hit the %d step cap", res.Steps), color.FgYellow)
	default:
		printStatus("✗", fmt.Sprintf("Ended with %s after %d steps: %v", res.StopReason, res.Steps, res.Err), color.FgRed)
	}
	if n := len(res.Rejections); n > 0 {
		printStatus("⚠", fmt.Sprintf("%d action(s) rejected", n), color.FgYellow)
	}
}
