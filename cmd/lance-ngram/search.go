package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/colemanliyah/lance"
	"github.com/colemanliyah/lance/lexical"
)

type searchFlags struct {
	verify  bool
	inputs  []string
	version uint64
	limit   int
	json    bool
}

type searchResult struct {
	Needle     string   `json:"needle"`
	Candidates uint64   `json:"candidates"`
	Verified   bool     `json:"verified"`
	Matches    uint64   `json:"matches"`
	Rows       []uint64 `json:"rows"`
}

func newSearchCmd(a *app) *cobra.Command {
	f := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search NAME NEEDLE",
		Short: "Find rows whose text contains NEEDLE",
		Long: `Search returns the candidate rows of the index for a substring query.
Candidates are a superset of the true matches. With --verify the candidates
are checked against the original input and only exact matches are printed.

Examples:
  lance-ngram search title.ngram "hello"
  lance-ngram search title.ngram "hello" --verify --input 'data/**/*.txt' --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, a, f, args[0], args[1])
		},
	}
	cmd.Flags().BoolVar(&f.verify, "verify", false, "drop candidates that do not contain the needle")
	cmd.Flags().StringArrayVarP(&f.inputs, "input", "i", nil, "input file glob used by --verify (repeatable)")
	cmd.Flags().Uint64Var(&f.version, "dataset-version", 0, "dataset version the index belongs to")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "print at most this many rows (0 = all)")
	cmd.Flags().BoolVar(&f.json, "json", false, "output as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, a *app, f *searchFlags, name, needle string) (err error) {
	ctx := cmd.Context()
	if f.verify && len(f.inputs) == 0 {
		return errors.New("--verify requires --input")
	}

	store, closeStore, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); err == nil {
			err = cerr
		}
	}()

	indexes := lance.NewIndexCache(store,
		lance.WithLoadOptions(a.loadOptions()...),
		lance.WithLogger(a.logger),
	)
	defer indexes.Close()

	candidates, err := indexes.Search(ctx, name, f.version, lexical.StringContains{Needle: needle})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	res := searchResult{
		Needle:     needle,
		Candidates: candidates.GetCardinality(),
	}
	rows := candidates
	if f.verify {
		files, err := expandInputs(f.inputs)
		if err != nil {
			return err
		}
		rows, err = verifyRows(ctx, newLineStream(files, a.cfg.Build.BatchSize), needle, candidates)
		if err != nil {
			return fmt.Errorf("verify failed: %w", err)
		}
		res.Verified = true
	}
	res.Matches = rows.GetCardinality()
	res.Rows = limitRows(rows, f.limit)

	out := cmd.OutOrStdout()
	if f.json {
		enc := gojson.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, id := range res.Rows {
		fmt.Fprintln(out, id)
	}
	if res.Verified {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d matches (%d candidates)\n", res.Matches, res.Candidates)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d candidates\n", res.Candidates)
	}
	return nil
}

// verifyRows keeps the candidates whose text contains needle.
func verifyRows(ctx context.Context, ls *lineStream, needle string, candidates *roaring64.Bitmap) (*roaring64.Bitmap, error) {
	defer ls.Close()

	matches := roaring64.New()
	for {
		b, err := ls.Next(ctx)
		if errors.Is(err, io.EOF) {
			return matches, nil
		}
		if err != nil {
			return nil, err
		}
		for i, id := range b.RowIDs {
			if b.IsNull(i) || !candidates.Contains(id) {
				continue
			}
			if strings.Contains(b.Texts[i], needle) {
				matches.Add(id)
			}
		}
	}
}

func limitRows(rows *roaring64.Bitmap, limit int) []uint64 {
	if limit <= 0 || uint64(limit) >= rows.GetCardinality() {
		return rows.ToArray()
	}
	out := make([]uint64, 0, limit)
	it := rows.Iterator()
	for it.HasNext() && len(out) < limit {
		out = append(out, it.Next())
	}
	return out
}
