package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gitrdm/gokanhtn/internal/metrics"
	"github.com/gitrdm/gokanhtn/internal/parallel"
	"github.com/gitrdm/gokanhtn/internal/problem"
	"github.com/gitrdm/gokanhtn/pkg/htn"
)

// env carries what every command shares: context, logger and metrics.
type env struct {
	ctx      context.Context
	cancel   context.CancelFunc
	registry *prometheus.Registry
	recorder *metrics.Recorder
}

func newEnv(cmd *cobra.Command) (*env, error) {
	e := &env{}
	e.ctx, e.cancel = context.WithCancel(cmd.Context())
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		e.cancel()
		e.ctx, e.cancel = context.WithTimeout(cmd.Context(), timeout)
	}
	if on, _ := cmd.Flags().GetBool("metrics"); on {
		e.registry = prometheus.NewRegistry()
		rec, err := metrics.NewRecorder(e.registry)
		if err != nil {
			e.cancel()
			return nil, errors.Wrap(err, "registering metrics")
		}
		e.recorder = rec
	}
	return e, nil
}

func (e *env) options(p *problem.Problem, extra ...htn.Option) []htn.Option {
	opts := []htn.Option{htn.WithLogger(log.StandardLogger())}
	if e.recorder != nil {
		opts = append(opts, htn.WithRecorder(e.recorder))
	}
	return p.EngineOptions(append(opts, extra...)...)
}

func (e *env) finished(mode string, res htn.Result, err error) {
	if e.recorder != nil {
		e.recorder.Finished(mode, res, err)
	}
}

func (e *env) close(w io.Writer) error {
	defer e.cancel()
	if e.registry == nil {
		return nil
	}
	families, err := e.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "writing metrics")
		}
	}
	return nil
}

// solve runs p in the given mode.
func solve(ctx context.Context, mode string, p *problem.Problem, opts []htn.Option) (htn.Result, error) {
	switch mode {
	case problem.ModeVerify:
		return htn.Verify(ctx, p.Domain, p.State, p.Plan, p.Goals, opts...)
	case problem.ModeRecognize:
		return htn.Recognize(ctx, p.Domain, p.State, p.Plan, p.Goals, opts...)
	case problem.ModeRepair:
		return htn.Repair(ctx, p.Domain, p.State, p.Plan, p.Goals, opts...)
	case problem.ModePlan:
		return htn.Plan(ctx, p.Domain, p.State, p.Goals, opts...)
	}
	return htn.Result{}, errors.Errorf("unknown mode %q", mode)
}

func newRunCmd(mode, short string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   mode + " FILE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := problem.Load(args[0])
			if err != nil {
				return err
			}
			extra := f.options(cmd.Flags())

			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			res, runErr := solve(e.ctx, mode, p, e.options(p, extra...))
			e.finished(mode, res, runErr)
			printResult(cmd.OutOrStdout(), p.Name, mode, res, f.tree)
			if err := e.close(cmd.OutOrStdout()); err != nil {
				return err
			}
			return errors.Wrapf(runErr, "%s %s", mode, p.Name)
		},
	}
	f.bind(cmd.Flags())
	return cmd
}

// runFlags override the options block of a problem file.
type runFlags struct {
	insert   bool
	del      bool
	first    bool
	maxFlaws int
	tree     bool
}

func (f *runFlags) bind(fs *pflag.FlagSet) {
	fs.BoolVar(&f.insert, "insert", false, "allow inserting unobserved actions")
	fs.BoolVar(&f.del, "delete", false, "allow skipping observed actions")
	fs.BoolVar(&f.first, "first", false, "stop at the first solution")
	fs.IntVar(&f.maxFlaws, "max-flaws", -1, "prune candidates with more flaws (-1 disables)")
	fs.BoolVar(&f.tree, "tree", false, "print the derivation tree")
}

// options returns engine options for the flags set on the command line.
func (f *runFlags) options(fs *pflag.FlagSet) []htn.Option {
	var opts []htn.Option
	if fs.Changed("insert") {
		opts = append(opts, htn.WithInsertion(f.insert))
	}
	if fs.Changed("delete") {
		opts = append(opts, htn.WithDeletion(f.del))
	}
	if fs.Changed("first") {
		opts = append(opts, htn.WithFirstSolution(f.first))
	}
	if fs.Changed("max-flaws") {
		opts = append(opts, htn.WithMaxFlaws(f.maxFlaws))
	}
	return opts
}

func newBatchCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "batch FILE...",
		Short: "Run several problems concurrently, each in its own mode",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			type outcome struct {
				name string
				mode string
				res  htn.Result
			}
			jobs := make([]parallel.Job[outcome], len(args))
			for i, path := range args {
				jobs[i] = func(ctx context.Context) (outcome, error) {
					p, err := problem.Load(path)
					if err != nil {
						return outcome{name: path}, err
					}
					res, err := solve(ctx, p.Mode, p, e.options(p))
					e.finished(p.Mode, res, err)
					return outcome{name: p.Name, mode: p.Mode, res: res}, err
				}
			}

			pool := parallel.NewPool(workers)
			log.WithField("workers", pool.Workers()).Debug("running batch")
			outs, err := parallel.Run(e.ctx, pool, jobs)
			failed := 0
			w := cmd.OutOrStdout()
			for _, o := range outs {
				if o.Err != nil {
					failed++
					fmt.Fprintf(w, "%s\terror\t%v\n", o.Value.name, o.Err)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", o.Value.name, o.Value.mode, summary(o.Value.res))
			}
			if cerr := e.close(w); cerr != nil {
				return cerr
			}
			if err != nil {
				return errors.Wrap(err, "batch")
			}
			if failed > 0 {
				return errors.Errorf("%d of %d problems failed", failed, len(outs))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "problems run at once (0 uses every CPU)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := htn.GetVersionInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "htnground %s (%s)\n", info.Version, info.GoVersion)
			if info.GitCommit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "commit %s built %s\n", info.GitCommit, info.BuildDate)
			}
		},
	}
}

func summary(res htn.Result) string {
	if !res.Found {
		return "not found"
	}
	return fmt.Sprintf("found flaws=%d plan=%s", res.Flaws, formatPlan(res.Plan))
}

func formatPlan(plan []htn.Term) string {
	parts := make([]string, len(plan))
	for i, t := range plan {
		parts[i] = t.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func printResult(w io.Writer, name, mode string, res htn.Result, tree bool) {
	fmt.Fprintf(w, "%s (%s, run %s): %s\n", name, mode, res.RunID, summary(res))
	for _, t := range res.Trace {
		fmt.Fprintf(w, "  %8s flaws=%d %s\n", t.Elapsed.Round(time.Microsecond), t.Flaws, formatPlan(t.Plan))
	}
	if !res.Found {
		return
	}
	if res.Inserted > 0 || res.Deleted > 0 {
		fmt.Fprintf(w, "  inserted %d, deleted %d\n", res.Inserted, res.Deleted)
	}
	if tree && res.Root != nil {
		fmt.Fprint(w, res.Root.Tree())
	}
	fmt.Fprintf(w, "  items=%d predictions=%d scans=%d completions=%d goals=%d rejected=%d\n",
		res.Stats.Items, res.Stats.Predictions, res.Stats.Scans, res.Stats.Completions, res.Stats.Goals, res.Stats.Rejected)
}
