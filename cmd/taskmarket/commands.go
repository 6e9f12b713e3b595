package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/aggregator"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/api"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/chainio"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/config"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/metrics"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/notify"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/quorum"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/scheduler"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/session"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/txmanager"
	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

func initConfig(c *cli.Context) error {
	if err := config.Init(c.String("config")); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to initialize config: %v", err), 1)
	}
	return nil
}

// engine bundles what every command needs.
type engine struct {
	logger  *logging.ZapLogger
	client  *chainio.Client
	bus     *notify.Bus
	session *session.Session
}

// startEngine dials the ledger, binds the configured identity and loads
// the first snapshot. Commands other than serve log to stderr only.
func startEngine(ctx context.Context, process logging.ProcessName, interactive bool) (*engine, error) {
	logConfig := logging.NewDefaultConfig(process)
	logConfig.LogDir = config.GetLogDir()
	logConfig.IsDevelopment = config.IsDevMode()
	if process == logging.CLIProcess {
		logConfig.ConsoleOnly = true
		logConfig.Stderr = true
	}
	logger, err := logging.NewZapLogger(logConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var caller common.Address
	if addr := config.GetCallerAddress(); addr != "" {
		caller = common.HexToAddress(addr)
	}
	client, err := chainio.Dial(ctx, chainio.Config{
		RPCURL:     config.GetRPCURL(),
		ChainID:    config.GetChainID(),
		Contract:   common.HexToAddress(config.GetMarketplaceAddress()),
		PrivateKey: config.GetCallerPrivateKey(),
		Caller:     caller,
	}, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	bus := notify.NewBus(logger)
	sess := session.New(client, bus, session.Config{
		Aggregator: aggregator.Config{
			MaxConcurrentReads: config.GetMaxConcurrentReads(),
			ReadTimeout:        config.GetReadTimeout(),
			DefaultJudgeCount:  config.GetDefaultJudgeCount(),
		},
		TxManager: txmanager.Config{FinalityTimeout: config.GetFinalityTimeout()},
	}, logger)
	if interactive {
		sess.SetNamePrompt(newTermPrompt(os.Stdin, os.Stderr))
	}

	e := &engine{logger: logger, client: client, bus: bus, session: sess}
	if client.Address() == (common.Address{}) {
		_, err = sess.Synchronize(ctx)
	} else {
		var writer ledger.Writer
		if !client.ReadOnly() {
			writer = client
		}
		_, err = sess.Connect(ctx, client.Address(), writer)
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("initial synchronization failed: %w", err)
	}
	return e, nil
}

func (e *engine) Close() {
	e.client.Close()
	_ = e.logger.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP API with background refresh",
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := startEngine(ctx, logging.TaskMarketProcess, false)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer e.Close()
	e.logger.Info("Starting task market engine ...")

	metrics.StartMetricsCollection(ctx)

	refresher, err := scheduler.NewRefresher(e.session, config.GetRefreshInterval(), config.GetReadTimeout(), e.logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := refresher.Start(ctx); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	server := api.NewServer(e.session, config.GetAPIPort(), e.logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	e.logger.Info("Task market engine is running", "port", config.GetAPIPort())

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			e.logger.Error("HTTP API stopped", "error", err)
		}
	}
	performGracefulShutdown(server, refresher, e.logger)
	return nil
}

func performGracefulShutdown(server *api.Server, refresher *scheduler.Refresher, logger logging.Logger) {
	logger.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Non-critical errors during HTTP API shutdown", "error", err)
	}
	refresher.Stop()

	logger.Info("Task market engine shutdown complete")
}

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Synchronize once and print the snapshot as JSON",
		Action: func(c *cli.Context) error {
			e, err := startEngine(c.Context, logging.CLIProcess, false)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer e.Close()
			return printJSON(e.session.Snapshot())
		},
	}
}

func viewCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "caller",
			Usage: "Address whose view to build (defaults to the configured identity)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print JSON instead of a table",
		},
	}
	// list runs build against a fresh snapshot. A non-nil table renders the
	// result unless --json is set.
	list := func(name, usage string, build func(*session.Session, common.Address) any, table func(any) error) *cli.Command {
		return &cli.Command{
			Name:  name,
			Usage: usage,
			Flags: flags,
			Action: func(c *cli.Context) error {
				var caller common.Address
				if raw := c.String("caller"); raw != "" {
					addr, err := types.ParseAddress(raw)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					caller = addr
				}
				e, err := startEngine(c.Context, logging.CLIProcess, false)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				defer e.Close()
				out := build(e.session, caller)
				if table == nil || c.Bool("json") {
					return printJSON(out)
				}
				return table(out)
			},
		}
	}
	tasks := func(v any) error {
		return writeTasks(os.Stdout, v.([]types.Task), time.Now())
	}

	return &cli.Command{
		Name:  "view",
		Usage: "Print a role-specific task view",
		Subcommands: []*cli.Command{
			list("open", "Open tasks the caller can claim", func(s *session.Session, a common.Address) any {
				return s.OpenForCaller(a)
			}, tasks),
			list("created", "Tasks the caller created", func(s *session.Session, a common.Address) any {
				return s.CreatedByCaller(a)
			}, tasks),
			list("submitted", "Tasks the caller holds a submission on", func(s *session.Session, a common.Address) any {
				return s.SubmittedByCaller(a)
			}, tasks),
			list("reviews", "Active reviews with their quorum status", func(s *session.Session, _ common.Address) any {
				decisions := quorum.All(s.Snapshot())
				out := make([]map[string]any, 0, len(decisions))
				for _, d := range decisions {
					out = append(out, map[string]any{"decision": d, "message": d.Message()})
				}
				return out
			}, nil),
		},
	}
}

// writeTasks renders tasks as an aligned table with rewards in whole units
// and deadlines relative to now.
func writeTasks(w io.Writer, tasks []types.Task, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tREWARD\tDEADLINE\tSUBMISSIONS\tDESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.State, types.FormatEther(t.Reward), types.DeadlineLabel(t.Deadline, now), len(t.Submissions), t.Description)
	}
	return tw.Flush()
}

func actCommand() *cli.Command {
	names := make([]string, 0, len(types.Actions()))
	for _, a := range types.Actions() {
		names = append(names, string(a))
	}
	return &cli.Command{
		Name:      "act",
		Usage:     "Perform a ledger action and wait for it to be reflected",
		ArgsUsage: "<" + strings.Join(names, "|") + ">",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "task", Usage: "Task id"},
			&cli.StringFlag{Name: "worker", Usage: "Worker address (approve/reject)"},
			&cli.StringFlag{Name: "proof", Usage: "Proof reference (submit-proof)"},
			&cli.StringFlag{Name: "reward", Usage: "Reward in whole units, e.g. 0.1 (create-task)"},
			&cli.StringFlag{Name: "deadline", Usage: "Deadline as RFC3339 or a duration from now, e.g. 72h (create-task)"},
			&cli.StringFlag{Name: "description", Usage: "Task description (create-task)"},
			&cli.BoolFlag{Name: "approve", Usage: "Vote yes (cast-vote)"},
			&cli.StringFlag{Name: "name", Usage: "Display name (set-display-name)"},
		},
		Action: runAct,
	}
}

func runAct(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one action is required", 1)
	}
	action, err := types.ParseAction(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	params, err := actParams(c, time.Now())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	e, err := startEngine(c.Context, logging.CLIProcess, true)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer e.Close()

	_, notes, cancel := e.bus.Subscribe()
	defer cancel()

	res, err := e.session.Perform(c.Context, action, params)
	printNotifications(notes)
	if err != nil {
		if res != nil {
			fmt.Fprintf(os.Stderr, "transaction: %s\n", res.TxHash.Hex())
		}
		if types.IsRetryable(err) {
			return cli.Exit(fmt.Sprintf("%v (retryable: synchronize before retrying)", err), 2)
		}
		return cli.Exit(err.Error(), 1)
	}
	return printJSON(map[string]any{"action": res.Action, "txHash": res.TxHash.Hex()})
}

func actParams(c *cli.Context, now time.Time) (types.ActionParams, error) {
	p := types.ActionParams{
		TaskID:      types.TaskID(c.Uint64("task")),
		Description: c.String("description"),
		Proof:       c.String("proof"),
		Approve:     c.Bool("approve"),
		Name:        c.String("name"),
	}
	if raw := c.String("worker"); raw != "" {
		w, err := types.ParseAddress(raw)
		if err != nil {
			return p, err
		}
		p.Worker = w
	}
	if raw := c.String("reward"); raw != "" {
		r, err := types.ParseEther(raw)
		if err != nil {
			return p, err
		}
		p.Reward = r
	}
	if raw := c.String("deadline"); raw != "" {
		d, err := parseDeadline(raw, now)
		if err != nil {
			return p, err
		}
		p.Deadline = d
	}
	return p, nil
}

// parseDeadline accepts an RFC3339 time or a duration relative to now.
func parseDeadline(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.InvalidInputf("deadline %q is neither RFC3339 nor a duration", raw)
	}
	return t, nil
}

func printNotifications(ch <-chan notify.Notification) {
	for {
		select {
		case n := <-ch:
			fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Kind, n.Message)
		default:
			return
		}
	}
}
