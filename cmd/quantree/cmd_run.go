package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mExOms/quantree/internal/api"
	"github.com/mExOms/quantree/internal/branch"
	"github.com/mExOms/quantree/internal/jobs"
	"github.com/mExOms/quantree/internal/optimizer"
	"github.com/mExOms/quantree/internal/report"
	"github.com/mExOms/quantree/internal/robustness"
	"github.com/mExOms/quantree/internal/shard"
	"github.com/mExOms/quantree/internal/strategy"
)

var (
	outDir      string
	combineKind string

	evaluateCmd = &cobra.Command{
		Use:   "evaluate [request.json]",
		Short: "Evaluate one strategy tree and print its metrics",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvaluate,
	}
	branchesCmd = &cobra.Command{
		Use:   "branches [request.json]",
		Short: "List the branches a parameter sweep expands into",
		Args:  cobra.ExactArgs(1),
		RunE:  runBranches,
	}
	optimizeCmd = &cobra.Command{
		Use:   "optimize [request.json]",
		Short: "Run a walk-forward optimization job in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE:  runOptimize,
	}
	robustnessCmd = &cobra.Command{
		Use:   "robustness [request.json]",
		Short: "Resample a return series and score its fragility",
		Args:  cobra.ExactArgs(1),
		RunE:  runRobustness,
	}
	combineCmd = &cobra.Command{
		Use:   "combine [branches.json]",
		Short: "Join selected branches into one shard strategy",
		Args:  cobra.ExactArgs(1),
		RunE:  runCombine,
	}
)

func init() {
	evaluateCmd.Flags().StringVar(&outDir, "out", "", "Write result, CSV and summary files to this directory")
	optimizeCmd.Flags().StringVar(&outDir, "out", "", "Write the report and a branch CSV to this directory")
	combineCmd.Flags().StringVar(&combineKind, "kind", string(optimizer.SplitChronological), "Job type of the branches (chronological, rolling)")
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	var req api.EvaluateRequest
	if err := readRequest(args[0], &req); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	prices := openPrices(ctx, nil)
	defer prices.Close()

	result, err := api.RunEvaluation(ctx, prices.loader, &req, defaults())
	if err != nil {
		return fmt.Errorf("failed to evaluate: %w", err)
	}
	if outDir != "" {
		return report.WriteEvaluation(result, outDir)
	}

	resp := api.EvaluateResponse{Metrics: result.Metrics}
	if req.Yearly {
		if resp.Yearly, err = result.YearlyMetrics(); err != nil {
			return err
		}
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

func runBranches(cmd *cobra.Command, args []string) error {
	var req api.BranchesRequest
	if err := readRequest(args[0], &req); err != nil {
		return err
	}
	if req.Strategy.Root == nil {
		return fmt.Errorf("request has no strategy")
	}
	limit := req.MaxBranches
	if limit <= 0 {
		limit = cfg.Optimizer.MaxBranches
	}
	branches, err := branch.Generate(req.Strategy.Root, req.Strategy.Library, req.Ranges, branch.Options{MaxBranches: limit})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), api.BranchesResponse{Count: len(branches), Branches: branches})
}

func runOptimize(cmd *cobra.Command, args []string) error {
	var req jobs.Request
	if err := readRequest(args[0], &req); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	prices := openPrices(ctx, nil)
	defer prices.Close()

	job, err := req.Job(ctx, prices.loader, defaults())
	if err != nil {
		return err
	}
	logger := logrus.WithField("component", "optimize")
	rep, runErr := optimizer.Run(ctx, job, optimizer.Options{
		OnProgress: func(p optimizer.Progress) {
			logger.Infof("%s: %d/%d branches", p.Status, p.CompletedBranches, p.TotalBranches)
		},
		Logger: logger,
	})
	if rep == nil {
		return runErr
	}

	if outDir != "" {
		if err := report.WriteOptimization(rep, outDir); err != nil {
			return err
		}
	} else if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
		return err
	}
	return runErr
}

func runRobustness(cmd *cobra.Command, args []string) error {
	var req api.RobustnessRequest
	if err := readRequest(args[0], &req); err != nil {
		return err
	}

	var series robustness.ReturnSeries
	switch {
	case req.Series != nil:
		series = *req.Series
	case req.Evaluate != nil:
		ctx, cancel := signalContext()
		defer cancel()
		prices := openPrices(ctx, nil)
		defer prices.Close()

		result, err := api.RunEvaluation(ctx, prices.loader, req.Evaluate, defaults())
		if err != nil {
			return fmt.Errorf("failed to evaluate: %w", err)
		}
		series = robustness.FromResult(result)
	default:
		return fmt.Errorf("request needs a series or a strategy to evaluate")
	}

	rc := cfg.Robustness
	if req.Config != nil {
		rc = *req.Config
	}
	rep, err := robustness.Analyze(series, rc)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), rep)
}

func runCombine(cmd *cobra.Command, args []string) error {
	var req api.CombineRequest
	if err := readRequest(args[0], &req); err != nil {
		return err
	}
	if len(req.Sources) > 0 {
		return fmt.Errorf("job sources need a running server; pass the branches themselves")
	}
	kind := req.Kind
	if kind == "" {
		kind = optimizer.SplitKind(combineKind)
	}

	sh, err := shard.New(req.Branches, req.Filter)
	if err != nil {
		return err
	}
	root, oosStart, err := sh.Combine(kind)
	if err != nil {
		return err
	}
	lib, err := shard.MergeLibraries(sh.Branches())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), api.CombineResponse{
		Shard:    sh,
		Strategy: strategy.Document{Root: root, Library: lib},
		OOSStart: oosStart,
	})
}
