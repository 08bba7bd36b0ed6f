package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/laptop-predictor/internal/config"
	"github.com/sells-group/laptop-predictor/internal/labels"
	"github.com/sells-group/laptop-predictor/internal/laptop"
	"github.com/sells-group/laptop-predictor/pkg/predictor"
)

type predictOptions struct {
	kind   string
	laptop laptop.Laptop
	json   bool
}

var predictOpts = predictOptions{laptop: laptop.Default("")}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the spec score and/or price of one laptop",
	Example: `  laptop-predictor predict --gpu "GeForce RTX 3060" --ram 16 --threads 12 --cores 6
  laptop-predictor predict --kind price --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPredict(cmd.Context(), cmd.OutOrStdout(), cfg, predictOpts)
	},
}

func init() {
	f := predictCmd.Flags()
	f.StringVar(&predictOpts.kind, "kind", "both", "prediction kind: spec_score, price or both")
	f.StringVar(&predictOpts.laptop.GPU, "gpu", "", "GPU name from the label mapping")
	f.Float64Var(&predictOpts.laptop.ScreenSize, "screen", laptop.DefaultScreenSize, "screen size in inches")
	f.Float64Var(&predictOpts.laptop.RAM, "ram", laptop.DefaultRAM, "RAM in GB")
	f.Float64Var(&predictOpts.laptop.Threads, "threads", laptop.DefaultThreads, "CPU threads")
	f.Float64Var(&predictOpts.laptop.Cores, "cores", laptop.DefaultCores, "CPU cores")
	f.BoolVar(&predictOpts.json, "json", false, "print results as JSON")
	rootCmd.AddCommand(predictCmd)
}

// parseKinds resolves the --kind flag.
func parseKinds(s string) ([]predictor.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both", "all":
		return predictor.Kinds, nil
	}
	k, err := predictor.ParseKind(s)
	if err != nil {
		return nil, err
	}
	return []predictor.Kind{k}, nil
}

func runPredict(ctx context.Context, out io.Writer, c *config.Config, opts predictOptions) error {
	kinds, err := parseKinds(opts.kind)
	if err != nil {
		return err
	}

	mapping, err := labels.LoadOrEmpty(c.Labels.Path)
	if err != nil {
		return err
	}
	enc := laptop.NewEncoder(mapping)
	client := newPredictorClient(c.Predictor, nil)

	results := make([]predictor.Result, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			features, err := enc.Features(kind, opts.laptop)
			if err != nil {
				return err
			}
			results[i] = client.Predict(gctx, kind, features)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "predict")
	}

	if opts.json {
		e := json.NewEncoder(out)
		e.SetIndent("", "  ")
		return e.Encode(results)
	}

	p := message.NewPrinter(language.English)
	for _, res := range results {
		if _, err := fmt.Fprintln(out, formatResult(p, res)); err != nil {
			return err
		}
	}
	return nil
}

// formatResult renders one result for the terminal, e.g.
// "price: $1,234.56 (mock: timeout)".
func formatResult(p *message.Printer, res predictor.Result) string {
	var value string
	switch res.Kind {
	case predictor.Price:
		value = p.Sprintf("$%.2f", res.Value)
	default:
		value = p.Sprintf("%.1f", res.Value)
	}

	source := string(res.Source)
	if f := res.Failure(); f != "" {
		source += ": " + string(f)
	}
	return fmt.Sprintf("%s: %s (%s)", res.Kind, value, source)
}
