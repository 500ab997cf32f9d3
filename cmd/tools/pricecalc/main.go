// Command pricecalc prices invoice lines from the command line with the same
// engine the API uses. It is meant for support staff reconciling totals.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/noah-isme/invoice-pricing/internal/pricing"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// quoteFile mirrors the body of POST /api/v1/pricing/totals.
type quoteFile struct {
	Strategy        string              `json:"strategy"`
	Lines           []pricing.LineInput `json:"lines"`
	InvoiceDiscount pricing.Number      `json:"invoiceDiscount"`
}

func newApp(out io.Writer) *cli.App {
	currencyFlag := &cli.StringFlag{Name: "currency", Value: "INR", Usage: "ISO 4217 code used for display", EnvVars: []string{"CURRENCY_CODE"}}
	strategyFlag := &cli.StringFlag{Name: "strategy", Usage: "live or snapshot; overrides the file"}
	jsonFlag := &cli.BoolFlag{Name: "json", Usage: "print unrounded results as JSON"}

	return &cli.App{
		Name:      "pricecalc",
		Usage:     "price invoice lines offline",
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			{
				Name:  "line",
				Usage: "price a single line",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "qty", Usage: "quantity; blank counts as 1"},
					&cli.StringFlag{Name: "price", Usage: "unit price"},
					&cli.StringFlag{Name: "discount", Usage: "discount value"},
					&cli.StringFlag{Name: "type", Value: "percentage", Usage: "percentage or amount"},
					&cli.StringFlag{Name: "tax", Usage: "tax rate in percent"},
					currencyFlag, strategyFlag, jsonFlag,
				},
				Action: func(c *cli.Context) error {
					in := pricing.LineInput{
						UnitPrice:      pricing.NumberFrom(c.String("price")),
						DiscountValue:  pricing.NumberFrom(c.String("discount")),
						DiscountType:   pricing.ParseDiscountType(c.String("type")),
						TaxRatePercent: pricing.NumberFrom(c.String("tax")),
					}
					if c.IsSet("qty") {
						in.Quantity = pricing.NumberFrom(c.String("qty"))
					}
					engine, err := engineFor(c.String("strategy"))
					if err != nil {
						return err
					}
					b := engine.Line(in.Normalize(pricing.QuantityFallbackNewRow))
					if c.Bool("json") {
						return writeJSON(c.App.Writer, b)
					}
					return printLines(c.App.Writer, []pricing.Breakdown{b}, nil, c.String("currency"))
				},
			},
			{
				Name:      "quote",
				Usage:     "price every line of a JSON file and total the invoice",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "path to the quote JSON, - for stdin"},
					currencyFlag, strategyFlag, jsonFlag,
				},
				Action: func(c *cli.Context) error {
					q, err := readQuote(c.String("file"))
					if err != nil {
						return err
					}
					name := q.Strategy
					if c.IsSet("strategy") {
						name = c.String("strategy")
					}
					engine, err := engineFor(name)
					if err != nil {
						return err
					}
					lines := make([]pricing.Line, 0, len(q.Lines))
					for _, in := range q.Lines {
						lines = append(lines, in.Normalize(pricing.QuantityFallbackEdit))
					}
					breakdowns, totals := engine.Quote(lines, q.InvoiceDiscount.Float(0))
					if c.Bool("json") {
						return writeJSON(c.App.Writer, map[string]any{
							"strategy": engine.Strategy.Name(),
							"lines":    breakdowns,
							"totals":   totals,
						})
					}
					return printLines(c.App.Writer, breakdowns, &totals, c.String("currency"))
				},
			},
		},
	}
}

func engineFor(name string) (pricing.Engine, error) {
	s, err := pricing.StrategyFor(name)
	if err != nil {
		return pricing.Engine{}, fmt.Errorf("%w: %q", err, name)
	}
	return pricing.NewEngine(s), nil
}

func readQuote(path string) (quoteFile, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return quoteFile{}, err
		}
		defer f.Close()
		r = f
	}
	var q quoteFile
	if err := json.NewDecoder(r).Decode(&q); err != nil {
		return quoteFile{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return q, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printLines(w io.Writer, lines []pricing.Breakdown, totals *pricing.Totals, code string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tgross\tdiscount\ttaxable\ttax\ttotal\t")
	for i, b := range lines {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n", i+1,
			pricing.FormatAmount(b.Gross, code),
			pricing.FormatAmount(b.DiscountAmount, code),
			pricing.FormatAmount(b.TaxableSubtotal, code),
			pricing.FormatAmount(b.TaxAmount, code),
			pricing.FormatAmount(b.LineTotal, code),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if totals == nil {
		return nil
	}
	for _, row := range []struct {
		label string
		value float64
	}{
		{"subtotal", totals.Subtotal},
		{"tax", totals.TaxTotal},
		{"invoice discount", totals.InvoiceDiscount},
		{"grand total", totals.GrandTotal},
	} {
		if _, err := fmt.Fprintf(w, "%-17s %s\n", row.label, pricing.FormatAmount(row.value, code)); err != nil {
			return err
		}
	}
	return nil
}
