// Command lpg builds, decompresses and transforms locally consistent
// grammars.
package main

import (
	"os"
	"strings"

	"github.com/ddiazdom/LPG"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "lpg",
		Short:         "Grammar-based compression",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(gramCmd(), decompCmd(), bwtCmd())
	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func gramCmd() *cobra.Command {
	var (
		output  string
		threads int
		hbuff   float64
		tmpDir  string
		level   uint8
	)
	cmd := &cobra.Command{
		Use:   "gram TEXT",
		Short: "Create a locally consistent grammar",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			input := args[0]
			if output == "" {
				output = input + ".gram"
			}
			st, err := os.Stat(input)
			if err != nil {
				return err
			}
			opts := []lpg.Option{
				lpg.WithThreads(threads),
				lpg.WithCompressionLevel(level),
			}
			if hbuff > 0 {
				opts = append(opts, lpg.WithHashBuffer(int(hbuff*float64(st.Size()))))
			}
			if tmpDir != "" {
				opts = append(opts, lpg.WithTempDir(tmpDir))
			}
			return lpg.BuildGrammar(input, output, opts...)
		},
	}
	cmd.Flags().StringVarP(&output, "output-file", "o", "", "Output file")
	cmd.Flags().IntVarP(&threads, "threads", "t", 1, "Maximum number of threads")
	cmd.Flags().Float64VarP(&hbuff, "hbuff", "f", 0.5, "Hashing step will use at most INPUT_SIZE*f bytes. 0 means no limit")
	cmd.Flags().StringVarP(&tmpDir, "tmp", "T", "", "Temporal folder")
	cmd.Flags().Uint8VarP(&level, "level-compression", "L", 1, "Level of compression (1 or 2)")
	return cmd
}

func decompCmd() *cobra.Command {
	var (
		output  string
		threads int
		tmpDir  string
		keep    bool
		buffMiB int
	)
	cmd := &cobra.Command{
		Use:   "decomp GRAM",
		Short: "Decompress a locally consistent grammar to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			input := args[0]
			if output == "" {
				output = strings.TrimSuffix(input, ".gram")
				if output == input {
					output = input + ".decomp"
				}
			}
			return lpg.Decompress(input, output, keep)
		},
	}
	cmd.Flags().StringVarP(&output, "output-file", "o", "", "Output file")
	cmd.Flags().IntVarP(&threads, "threads", "t", 1, "Number of threads")
	cmd.Flags().StringVarP(&tmpDir, "tmp", "T", "", "Temporal folder")
	cmd.Flags().BoolVarP(&keep, "keep", "k", false, "Keep the input grammar")
	cmd.Flags().IntVarP(&buffMiB, "file-buffer", "B", 16, "Size in MiB for the file buffer")
	return cmd
}

func bwtCmd() *cobra.Command {
	var (
		output  string
		threads int
		tmpDir  string
	)
	cmd := &cobra.Command{
		Use:   "bwt GRAM",
		Short: "Build the BWT of a text from its locally consistent grammar representation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			input := args[0]
			if output == "" {
				output = strings.TrimSuffix(input, ".gram") + ".bwt"
			}
			primary, err := lpg.BuildBWT(input, output)
			if err != nil {
				return err
			}
			logrus.WithField("primary_index", primary).Info("transform finished")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output-file", "o", "", "Output file")
	cmd.Flags().IntVarP(&threads, "threads", "t", 1, "Number of threads")
	cmd.Flags().StringVarP(&tmpDir, "tmp", "T", "", "Temporal folder")
	return cmd
}
