package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/calibration"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/council"
	"github.com/zen-systems/quorum/pkg/decision"
	"github.com/zen-systems/quorum/pkg/engine"
	"github.com/zen-systems/quorum/pkg/ensemble"
	"github.com/zen-systems/quorum/pkg/gateway"
	"github.com/zen-systems/quorum/pkg/introspect"
	"github.com/zen-systems/quorum/pkg/logging"
	"github.com/zen-systems/quorum/pkg/metrics"
	"github.com/zen-systems/quorum/pkg/structured"
)

var (
	configFile string
	mockFlag   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quorum",
		Short: "Decision-confidence engine over an ensemble of LLMs",
		Long: `Quorum turns the judgments of multiple LLMs into one calibrated
trading recommendation. Each decision cycle runs a scored sentiment
ensemble, a three-stage deliberation council and an introspection pass,
then blends the three confidence signals into a trade call with a
position-size multiplier.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "route every model to the mock adapter")

	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(settleCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func decideCmd() *cobra.Command {
	var symbol string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "decide [question]",
		Short: "Run one full decision cycle",
		Long: `Runs the ensemble, council and introspection signals for the
question and prints the synthesized trade recommendation as JSON. The
uncertainty snapshot is recorded for later calibration against outcomes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			rec := metrics.New()
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						log.Warn().Err(err).Msg("metrics listener stopped")
					}
				}()
			}

			eng, _, err := buildEngine(cfg, log, rec)
			if err != nil {
				return err
			}

			result, err := eng.RunCycle(cmd.Context(), engine.CycleInput{
				Symbol:   symbol,
				Question: args[0],
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result.Recommendation, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "trading symbol the question is about (required)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "serve Prometheus metrics on this address during the cycle")
	cmd.MarkFlagRequired("symbol")

	return cmd
}

func settleCmd() *cobra.Command {
	var symbol string
	var timestamp string
	var outcome string
	var pnl float64

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Record the outcome of a past decision",
		Long: `Transitions the latest pending snapshot for the symbol to WIN or
LOSS. Pass --timestamp (RFC 3339) to settle one specific decision.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			var ts time.Time
			if timestamp != "" {
				ts, err = time.Parse(time.RFC3339, timestamp)
				if err != nil {
					return fmt.Errorf("parse timestamp: %w", err)
				}
			}

			tracker, err := buildTracker(cfg, log)
			if err != nil {
				return err
			}

			if !tracker.RecordOutcome(symbol, ts, calibration.Outcome(outcome), pnl) {
				return fmt.Errorf("no pending snapshot for %s", symbol)
			}
			fmt.Printf("Recorded %s for %s.\n", outcome, symbol)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "trading symbol (required)")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "decision timestamp, RFC 3339 (optional)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "WIN or LOSS (required)")
	cmd.Flags().Float64Var(&pnl, "pnl", 0, "realized profit or loss")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("outcome")

	return cmd
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the calibration report",
		Long: `Compares win rates between high-confidence and low-confidence
decisions over the settled history. A positive gap above 0.10 means the
engine's stated confidence carries real signal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			tracker, err := buildTracker(cfg, log)
			if err != nil {
				return err
			}

			report := tracker.Report()
			metrics := tracker.Metrics()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Snapshots\t%d (%d settled)\n", tracker.Len(), report.SettledCount)
			fmt.Fprintf(w, "Mean confidence\t%.2f\n", metrics.MeanConfidence)
			fmt.Fprintf(w, "Mean epistemic\t%.1f\n", metrics.MeanEpistemic)
			fmt.Fprintf(w, "Mean aleatoric\t%.1f\n", metrics.MeanAleatoric)
			fmt.Fprintf(w, "High-confidence win rate\t%.2f (n=%d)\n", report.HighConfidenceWinRate, report.HighCount)
			fmt.Fprintf(w, "Low-confidence win rate\t%.2f (n=%d)\n", report.LowConfidenceWinRate, report.LowCount)
			fmt.Fprintf(w, "Calibration gap\t%.2f\n", report.CalibrationGap)
			if report.WellCalibrated {
				fmt.Fprintf(w, "Verdict\twell calibrated\n")
			} else {
				fmt.Fprintf(w, "Verdict\tnot yet calibrated\n")
			}
			return w.Flush()
		},
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured model routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL ID\tADAPTER\tPROVIDER MODEL\tSTATUS")

			var ids []string
			for id := range cfg.Models {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				route := cfg.Models[id]
				status := "no key"
				if cfg.HasAdapter(route.Adapter) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, route.Adapter, route.Model, status)
			}
			return w.Flush()
		},
	}
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func buildTracker(cfg *config.Config, log zerolog.Logger) (*calibration.Tracker, error) {
	opts := []calibration.Option{
		calibration.WithLogger(logging.Component(log, "calibration")),
	}
	if cfg.Calibration.HistoryPath != "" {
		store, err := calibration.NewStore(cfg.Calibration.HistoryPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, calibration.WithStore(store))
	}
	return calibration.NewTracker(cfg.Calibration.Capacity, opts...), nil
}

func buildEngine(cfg *config.Config, log zerolog.Logger, rec *metrics.Recorder) (*engine.Engine, *calibration.Tracker, error) {
	adapters, err := createAdapters(cfg)
	if err != nil {
		return nil, nil, err
	}

	routes := make(map[string]gateway.Route)
	for id, route := range cfg.Models {
		name := route.Adapter
		if mockFlag {
			name = "mock"
		}
		a, ok := adapters[name]
		if !ok {
			return nil, nil, fmt.Errorf("model %s needs adapter %s, which has no credentials", id, name)
		}
		routes[id] = gateway.Route{Adapter: a, Model: route.Model}
	}

	gw := gateway.New(routes,
		gateway.WithLogger(logging.Component(log, "gateway")),
		gateway.WithMetrics(rec),
		gateway.WithRetry(gateway.RetryConfig{
			MaxRetries: cfg.Gateway.MaxRetries,
			BaseDelay:  cfg.Gateway.BaseDelay,
			MaxDelay:   cfg.Gateway.MaxDelay,
		}),
		gateway.WithDefaultTimeout(cfg.Gateway.Timeout),
	)

	validator := structured.NewValidator(gw,
		structured.WithLogger(logging.Component(log, "structured")),
		structured.WithMetrics(rec),
	)

	agg := ensemble.New(validator, ensemble.Config{
		Backends:     cfg.Ensemble.Backends,
		ScoreField:   cfg.Ensemble.ScoreField,
		ScoreRange:   ensemble.RangeUnit,
		StaggerDelay: cfg.Ensemble.StaggerDelay,
		Validation: structured.Options{
			Temperature:          cfg.Ensemble.Temperature,
			Timeout:              cfg.Gateway.Timeout,
			MaxValidationRetries: cfg.Ensemble.MaxValidationRetries,
		},
	}, logging.Component(log, "ensemble"))

	cnc := council.New(gw, council.Config{
		Members:              cfg.Council.Members,
		Chairman:             cfg.Council.Chairman,
		OpinionTemperature:   cfg.Council.OpinionTemperature,
		ReviewTemperature:    cfg.Council.ReviewTemperature,
		SynthesisTemperature: cfg.Council.SynthesisTemperature,
		StaggerDelay:         cfg.Council.StaggerDelay,
		Timeout:              cfg.Gateway.Timeout,
	}, logging.Component(log, "council"))

	intro := introspect.New(gw, validator, introspect.Config{
		Model:             cfg.Introspection.Model,
		Samples:           cfg.Introspection.Samples,
		SampleTemperature: cfg.Introspection.SampleTemperature,
		AssessTemperature: cfg.Introspection.AssessTemperature,
		StaggerDelay:      cfg.Introspection.StaggerDelay,
		Timeout:           cfg.Gateway.Timeout,
		ValidationRetries: cfg.Introspection.ValidationRetries,
	}, introspect.Weights{
		Consistency: cfg.Weights.Consistency,
		Epistemic:   cfg.Weights.Epistemic,
		Critique:    cfg.Weights.Critique,
	}, logging.Component(log, "introspect"))

	tracker, err := buildTracker(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	eng := engine.New(agg, cnc, intro, tracker,
		engine.WithLogger(logging.Component(log, "engine")),
		engine.WithMetrics(rec),
		engine.WithWeights(decision.Weights{
			Ensemble:      cfg.Weights.Ensemble,
			Council:       cfg.Weights.Council,
			Introspection: cfg.Weights.Introspection,
		}),
	)
	return eng, tracker, nil
}

func createAdapters(cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if cfg.APIKeys.Anthropic != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.APIKeys.Anthropic)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.APIKeys.OpenAI != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.APIKeys.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.APIKeys.Google != "" {
		a, err := adapter.NewGoogleAdapter(cfg.APIKeys.Google)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if cfg.APIKeys.DeepSeek != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.APIKeys.DeepSeek)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	adapters["mock"] = mockAdapter()

	return adapters, nil
}

// mockAdapter answers every stage of a cycle plausibly so a full run
// works offline.
func mockAdapter() *adapter.MockAdapter {
	return adapter.NewMockAdapterWithResponses(map[string]string{
		"directional sentiment":      `{"score": 0.5, "reasoning": "mock sentiment"}`,
		"Rank their answers":         `{"ranking": ["A", "B", "C"], "rationale": "mock review"}`,
		"Assess the uncertainty":     `{"epistemic_score": 30, "aleatoric_score": 40, "reasoning": "mock assessment"}`,
		"consensus decision":         `{"confidence_after_critique": 70, "should_trust": true, "key_risks": ["mock risk"]}`,
		"Answer with exactly one of": "BUY",
	}, "Mock opinion: the setup looks constructive. BUY.")
}
