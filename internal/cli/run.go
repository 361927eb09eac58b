package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/httpexec"
	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/output"
	"github.com/wesleyorama2/stampede/internal/profile"
)

// progressInterval is how often live progress is printed.
var progressInterval = time.Second

type runFlags struct {
	configFile    string
	url           string
	env           string
	vus           int
	duration      string
	stages        string
	iterations    int64
	rps           float64
	summaryExport string
	htmlReport    string
	logLevel      string
	logFormat     string
	quiet         bool
	noColor       bool
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file, or against a single URL.

Config file mode:
  stampede run --config test.yaml

Quick mode (one GET per iteration):
  stampede run --url https://api.example.com/health \
    --stage "30s:10,2m:10:constant,30s:0"

Exit codes: 0 when every threshold passed, 99 when a threshold failed,
108 when the run was aborted for another reason, 1 on errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	cmd.Flags().StringVar(&f.url, "url", "", "URL to test (alternative to --config)")
	cmd.Flags().StringVarP(&f.env, "env", "e", "", "Environment from the configuration file")
	cmd.Flags().IntVar(&f.vus, "vus", 0, "Number of virtual users")
	cmd.Flags().StringVar(&f.duration, "duration", "", "Test duration (e.g., 5m, 30s)")
	cmd.Flags().StringVar(&f.stages, "stage", "", "Stages in format 'duration:target[:mode],...'")
	cmd.Flags().Int64Var(&f.iterations, "iterations", 0, "Stop after this many iterations")
	cmd.Flags().Float64Var(&f.rps, "rps", 0, "Maximum requests per second across all VUs")
	cmd.Flags().StringVar(&f.summaryExport, "summary-export", "", "Write the run summary as JSON to this file")
	cmd.Flags().StringVar(&f.htmlReport, "html-report", "", "Write an HTML report to this file")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (console, json)")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Disable live progress output, print only PASSED or FAILED")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	return cmd
}

// runTest runs a load test and maps the result to an exit code.
func runTest(cmd *cobra.Command, f *runFlags) error {
	cfg, err := loadRunConfig(f)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg, f); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.LoggingConfig()
	if f.logLevel != "" {
		logCfg.Level = f.logLevel
	}
	if f.logFormat != "" {
		logCfg.Format = f.logFormat
	}
	if logCfg.Output == "stderr" {
		logCfg.Writer = cmd.ErrOrStderr()
	}
	log, closeLog, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer closeLog()

	task, err := cfg.Task()
	if err != nil {
		return err
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}

	requests := httpexec.New(cfg.HTTPExecConfig())
	defer requests.Close()

	opts.Task = task
	opts.Requests = requests
	opts.Logger = log

	eng, err := engine.New(opts)
	if err != nil {
		return err
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		NoColor: f.noColor,
		Quiet:   f.quiet,
	})
	name := opts.Name
	if name == "" {
		name = "default"
	}
	total := runLength(cfg, opts.Profile)
	console.PrintHeader(name, total, opts.Profile.MaxTarget())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runWithProgress(ctx, eng, console, total)
	if err != nil {
		return err
	}

	console.PrintSummary(res)

	if f.summaryExport != "" {
		if err := output.ExportJSON(f.summaryExport, res); err != nil {
			return err
		}
		log.Info("summary exported", zap.String("path", f.summaryExport))
	}
	if f.htmlReport != "" {
		if err := output.GenerateHTML(res, f.htmlReport); err != nil {
			return err
		}
		log.Info("html report written", zap.String("path", f.htmlReport))
	}

	if code := exitCode(res); code != ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// runWithProgress runs eng and prints live stats until it returns.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.Console, total time.Duration) (*engine.Result, error) {
	type outcome struct {
		res *engine.Result
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := eng.Run(ctx)
		done <- outcome{res, err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case o := <-done:
			return o.res, o.err
		case <-ticker.C:
			console.PrintUpdate(output.StatsFromRegistry(eng.Registry(), time.Since(start), total))
		}
	}
}

// exitCode maps a result to the process exit code.
func exitCode(res *engine.Result) int {
	switch {
	case res.Passed:
		return ExitOK
	case res.Aborted && !res.ThresholdAbort:
		return ExitAborted
	default:
		return ExitThresholdsFailed
	}
}

// loadRunConfig reads --config, or builds a one-request run for --url.
func loadRunConfig(f *runFlags) (*config.RunConfig, error) {
	switch {
	case f.configFile != "" && f.url != "":
		return nil, fmt.Errorf("--config and --url are mutually exclusive")
	case f.configFile != "":
		data, err := os.ReadFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := config.ValidateSchema(data, f.configFile); err != nil {
			return nil, err
		}
		return config.LoadConfig(f.configFile)
	case f.url != "":
		return buildConfigFromURL(f.url), nil
	default:
		return nil, fmt.Errorf("either --config or --url is required")
	}
}

// buildConfigFromURL builds a run of 10 VUs for 30s issuing one GET per
// iteration. Flags override the defaults.
func buildConfigFromURL(url string) *config.RunConfig {
	return &config.RunConfig{
		Name:     "cli-test",
		VUs:      10,
		Duration: config.Duration(30 * time.Second),
		Scenario: config.ScenarioConfig{
			Requests: []config.RequestConfig{{Name: "cli-request", Method: "GET", URL: url}},
		},
	}
}

// applyFlags overrides the configuration with explicitly set flags. A
// profile given on the command line replaces the configured one.
func applyFlags(cmd *cobra.Command, cfg *config.RunConfig, f *runFlags) error {
	if err := cfg.ApplyEnvironment(f.env); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("stage") {
		stages, err := parseStages(f.stages)
		if err != nil {
			return fmt.Errorf("invalid stages format: %w", err)
		}
		cfg.Stages = stages
		cfg.VUs = 0
		cfg.Duration = 0
	}
	if flags.Changed("vus") {
		cfg.VUs = f.vus
		cfg.Stages = nil
	}
	if flags.Changed("duration") {
		d, err := config.ParseDurationString(f.duration)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		cfg.Duration = config.Duration(d)
		cfg.Stages = nil
	}
	if flags.Changed("iterations") {
		cfg.Iterations = f.iterations
	}
	if flags.Changed("rps") {
		cfg.RPS = f.rps
	}
	return nil
}

// parseStages parses stages from CLI format "30s:10,2m:10:constant,30s:0".
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Split(part, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target[:mode]' format, got '%s'", i+1, part)
		}

		d, err := config.ParseDurationString(fields[0])
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, fields[0], err)
		}

		target, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, fields[1], err)
		}

		st := config.StageConfig{
			Duration: config.Duration(d),
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		}
		if len(fields) == 3 {
			if _, err := profile.ParseMode(fields[2]); err != nil {
				return nil, fmt.Errorf("stage %d: %w", i+1, err)
			}
			st.Mode = fields[2]
		}
		stages = append(stages, st)
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// runLength is the expected wall time of the run, used for progress.
func runLength(cfg *config.RunConfig, p *profile.Profile) time.Duration {
	total := p.TotalDuration()
	if m := time.Duration(cfg.MaxDuration); m > 0 && m < total {
		total = m
	}
	return total
}
