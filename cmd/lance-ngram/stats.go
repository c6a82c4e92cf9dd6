package main

import (
	"fmt"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/colemanliyah/lance/lexical/ngram"
)

type statsOutput struct {
	Name        string `json:"name"`
	NGramLength int    `json:"ngram_length"`
	Compression string `json:"compression"`
	NGrams      int    `json:"ngrams"`
	Blocks      int    `json:"blocks"`
	Rows        uint64 `json:"rows"`
	SizeBytes   int64  `json:"size_bytes"`
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats NAME",
		Short: "Show index statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			name := args[0]

			store, closeStore, err := openStore(ctx, a.cfg.Store)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); err == nil {
					err = cerr
				}
			}()

			idx, err := ngram.Load(ctx, store, name, a.loadOptions()...)
			if err != nil {
				return err
			}
			defer idx.Close()

			s := idx.Stats()
			o := statsOutput{
				Name:        name,
				NGramLength: s.NGramLength,
				Compression: s.Compression.String(),
				NGrams:      s.NGrams,
				Blocks:      s.Blocks,
				Rows:        s.Rows,
				SizeBytes:   s.SizeBytes,
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := gojson.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(o)
			}
			fmt.Fprintf(out, "Index:         %s\n", o.Name)
			fmt.Fprintf(out, "N-gram length: %d\n", o.NGramLength)
			fmt.Fprintf(out, "Compression:   %s\n", o.Compression)
			fmt.Fprintf(out, "N-grams:       %d\n", o.NGrams)
			fmt.Fprintf(out, "Blocks:        %d\n", o.Blocks)
			fmt.Fprintf(out, "Rows:          %d\n", o.Rows)
			fmt.Fprintf(out, "Size:          %d bytes\n", o.SizeBytes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
