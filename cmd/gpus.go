package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/laptop-predictor/internal/labels"
)

var gpusCmd = &cobra.Command{
	Use:   "gpus",
	Short: "List the GPUs in the label mapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := labels.LoadOrEmpty(cfg.Labels.Path)
		if err != nil {
			return err
		}
		return printGPUs(cmd.OutOrStdout(), mapping)
	},
}

func init() {
	rootCmd.AddCommand(gpusCmd)
}

func printGPUs(out io.Writer, m *labels.Mapping) error {
	names := m.GPUNames()
	if len(names) == 0 {
		_, err := fmt.Fprintln(out, "no GPUs in label mapping")
		return err
	}

	p := message.NewPrinter(language.English)
	for _, name := range names {
		code, _ := m.GPUCode(name)
		if _, err := p.Fprintf(out, "%-40s %v\n", name, code); err != nil {
			return err
		}
	}
	return nil
}
