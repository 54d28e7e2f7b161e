// File: cmd/probe.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humanrelay/internal/config"
	"github.com/xkilldash9x/humanrelay/internal/desktop"
	"github.com/xkilldash9x/humanrelay/internal/detection"
	"github.com/xkilldash9x/humanrelay/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// probeReport is the JSON document printed by the probe command.
type probeReport struct {
	Target     string  `json:"target"`
	Found      bool    `json:"found"`
	Strategy   string  `json:"strategy,omitempty"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x,omitempty"`
	Y          int     `json:"y,omitempty"`
	Region     []int   `json:"region,omitempty"`
	Sweeps     int     `json:"sweeps"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	Error      string  `json:"error,omitempty"`
}

func newProbeCmd() *cobra.Command {
	var timeout time.Duration

	probeCmd := &cobra.Command{
		Use:   "probe <target>",
		Short: "Run one detection for a configured target and print the result as JSON",
		Long: `Runs the detection chain once for the named target against the live
screen. Use it to tune templates, OCR text, pixel probes and thresholds
before starting the relay.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{annotationLenient: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			screen := desktop.New(nil, logger, desktop.Options{Humanoid: cfg.HumanoidSettings()})

			var recognizer detection.TextRecognizer
			if cfg.OCR.Enabled {
				recognizer = desktop.NewTesseract(nil, cfg.OCR.Command, logger)
			}
			return runProbe(ctx, cfg, logger, screen, recognizer, args[0], timeout, cmd.OutOrStdout())
		},
	}

	probeCmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "how long to keep sweeping before reporting a miss")
	probeCmd.Flags().Bool("ocr", false, "enable the OCR strategy")
	return probeCmd
}

// runProbe detects one target and writes a probeReport to out. A miss is
// not an error; faults are reported in the document and returned.
func runProbe(ctx context.Context, cfg *config.Config, logger *zap.Logger, screen detection.Screen, recognizer detection.TextRecognizer, name string, timeout time.Duration, out io.Writer) error {
	target, err := cfg.Target(name)
	if err != nil {
		return err
	}

	var opts []detection.Option
	if recognizer != nil {
		opts = append(opts, detection.WithTextRecognizer(recognizer, cfg.OCR.Language))
	}
	engine := detection.NewEngine(screen, logger, opts...)

	start := time.Now()
	res, detErr := engine.Detect(ctx, target, timeout, cfg.Detection.PollInterval)
	report := probeReport{
		Target:     name,
		Found:      res.Found,
		Confidence: res.Confidence,
		Sweeps:     res.Sweeps,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	if res.Strategy != detection.StrategyNone {
		report.Strategy = res.Strategy.String()
	}
	if res.Found {
		report.X, report.Y = res.Location.X, res.Location.Y
		report.Region = []int{res.Region.Left, res.Region.Top, res.Region.Width, res.Region.Height}
	}
	if detErr != nil {
		report.Error = detErr.Error()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write probe result: %w", err)
	}
	return detErr
}
