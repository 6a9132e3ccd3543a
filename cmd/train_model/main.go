package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scorecard/config"
	"scorecard/db"
	"scorecard/logging"
	"scorecard/ml"
	"scorecard/pipeline"
)

// trainParams holds the parsed flags for a training run.
type trainParams struct {
	dataPath    string
	outputPath  string
	configPath  string
	dbPath      string
	encoding    string
	maxBins     int
	ivThreshold float64
	testRatio   float64
	seed        int64
	changed     func(name string) bool
	stdout      io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	p := trainParams{stdout: stdout}

	cmd := &cobra.Command{
		Use:   "train_model",
		Short: "Fit a WOE logistic scorecard from a loan history CSV",
		Long: `train_model cleans a loan history CSV, bins and WOE-encodes the
configured features, fits an L2 logistic regression and writes the
resulting scorecard bundle. Runs are appended to the training log when
a database path is set.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.changed = cmd.Flags().Changed
			return runTrain(cmd.Context(), p)
		},
	}

	cmd.Flags().StringVarP(&p.dataPath, "data", "d", "", "loan history CSV (required)")
	cmd.Flags().StringVarP(&p.outputPath, "output", "o", "", "bundle output path (default: model.path from config)")
	cmd.Flags().StringVarP(&p.configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&p.dbPath, "db", "", "training log database (default: database.path from config)")
	cmd.Flags().StringVar(&p.encoding, "encoding", "", "CSV text encoding (default: training.encoding from config)")
	cmd.Flags().IntVar(&p.maxBins, "max-bins", ml.DefaultMaxBins, "maximum bins per continuous feature")
	cmd.Flags().Float64Var(&p.ivThreshold, "iv-threshold", 0.02, "minimum information value for feature selection")
	cmd.Flags().Float64Var(&p.testRatio, "test-ratio", 0.3, "held-out share for AUC")
	cmd.Flags().Int64Var(&p.seed, "seed", 42, "split seed")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

// runTrain is the testable body of the command.
func runTrain(ctx context.Context, p trainParams) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(p.configPath)
	if err != nil {
		return err
	}
	p.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	frame, err := pipeline.LoadCSV(p.dataPath, cfg.Training.Encoding)
	if err != nil {
		return err
	}
	logger.Info("loaded training data",
		zap.String("path", p.dataPath),
		zap.Int("rows", frame.Len()),
		zap.Int("columns", len(frame.Columns())),
	)

	cleaner := pipeline.NewCleaner(logger)
	if _, err := cleaner.Clean(frame); err != nil {
		return fmt.Errorf("clean data: %w", err)
	}
	fit := cfg.Training.FitConfig
	set, err := pipeline.BuildTrainingSet(frame, fit.Continuous, fit.Categorical)
	if err != nil {
		return err
	}

	bundle, err := ml.Fit(set, fit, logger)
	if err != nil {
		return fmt.Errorf("fit scorecard: %w", err)
	}
	if err := bundle.Save(cfg.Model.Path); err != nil {
		return fmt.Errorf("save bundle: %w", err)
	}
	logger.Info("bundle saved", zap.String("path", cfg.Model.Path), zap.Strings("features", bundle.Features))

	if cfg.Database.Path != "" {
		if err := recordRun(ctx, cfg.Database.Path, bundle, cfg.Model.Path); err != nil {
			return err
		}
	}

	writeSummary(p.stdout, bundle, cfg.Model.Path)
	return nil
}

// apply 命令行参数覆盖配置文件
func (p trainParams) apply(cfg *config.Config) {
	changed := p.changed
	if changed == nil {
		changed = func(string) bool { return false }
	}
	if p.outputPath != "" {
		cfg.Model.Path = p.outputPath
	}
	if p.dbPath != "" {
		cfg.Database.Path = p.dbPath
	}
	if p.encoding != "" {
		cfg.Training.Encoding = p.encoding
	}
	if changed("max-bins") {
		cfg.Training.MaxBins = p.maxBins
	}
	if changed("iv-threshold") {
		cfg.Training.IVThreshold = p.ivThreshold
	}
	if changed("test-ratio") {
		cfg.Training.TestRatio = p.testRatio
	}
	if changed("seed") {
		cfg.Training.Seed = p.seed
	}
}

func recordRun(ctx context.Context, path string, bundle *ml.Bundle, bundlePath string) error {
	store, err := db.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := db.RunFromBundle(bundle, bundlePath)
	if err != nil {
		return err
	}
	if _, err := store.SaveTrainingRun(ctx, run); err != nil {
		return fmt.Errorf("record training run: %w", err)
	}
	return nil
}

func writeSummary(w io.Writer, bundle *ml.Bundle, path string) {
	fmt.Fprintf(w, "model %s saved to %s\n", bundle.Name, path)
	if bundle.Metrics != nil {
		fmt.Fprintf(w, "test AUC: %.4f (train %d, test %d)\n",
			bundle.Metrics.AUC, bundle.Metrics.TrainSamples, bundle.Metrics.TestSamples)
	}
	ivs := bundle.IVScores()
	if bundle.Metrics != nil && len(bundle.Metrics.IVScores) > 0 {
		ivs = bundle.Metrics.IVScores
	}
	names := make([]string, 0, len(ivs))
	for name := range ivs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if ivs[names[i]] != ivs[names[j]] {
			return ivs[names[i]] > ivs[names[j]]
		}
		return names[i] < names[j]
	})
	fmt.Fprintln(w, "information value:")
	for _, name := range names {
		mark := " "
		if _, ok := bundle.Mappings[name]; ok {
			mark = "*"
		}
		fmt.Fprintf(w, "  %s %-24s %.4f\n", mark, name, ivs[name])
	}
}
