package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/filings-cli/internal/fetcher"
	"github.com/sells-group/filings-cli/internal/market"
	"github.com/sells-group/filings-cli/internal/store"
)

var searchFlags struct {
	market     string
	identifier string
	name       string
	form       string
	max        int
	from       string
	to         string
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a market for filings and queue them for download",
	Long:  "Runs a market searcher (SEC EDGAR, UK Companies House, or the ESEF aggregator), upserts the entities, and records every filing as a pending download.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if searchFlags.identifier == "" && searchFlags.name == "" {
			return eris.New("one of --identifier or --name is required")
		}

		params := market.SearchParams{
			FormType:   searchFlags.form,
			MaxResults: searchFlags.max,
		}
		var err error
		if params.StartDate, err = parseDateFlag(searchFlags.from); err != nil {
			return err
		}
		if params.EndDate, err = parseDateFlag(searchFlags.to); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client := initClient()
		defer client.Close()

		registry := buildRegistry(client)
		searcher, err := registry.For(searchFlags.market)
		if err != nil {
			return err
		}
		defer searcher.Close() //nolint:errcheck

		query, byName := searchFlags.identifier, false
		if query == "" {
			query, byName = searchFlags.name, true
		}

		res, err := market.NewOrchestrator(st).Run(ctx, searcher, query, byName, params)
		if err != nil {
			return err
		}

		for _, f := range res.Filings {
			fmt.Printf("  %-12s %s  %s  %s\n", f.FormType, f.FilingDate.Format("2006-01-02"), f.CompanyName, f.AccessionNumber)
		}
		fmt.Printf("%d filings found, %d new, %d already known\n", len(res.Filings), res.NewRecords, res.Duplicates)
		return nil
	},
}

// buildRegistry wires every market searcher. Constructors are lazy so a
// search touches only the cache files of its own market.
func buildRegistry(client fetcher.Client) *market.Registry {
	registry := market.NewRegistry()
	registry.Register(store.MarketSEC, func() (market.Searcher, error) {
		tickers, err := market.NewTickerCache(tickerCachePath(), tickerCacheTTL)
		if err != nil {
			return nil, err
		}
		return market.NewSECSearcher(client, tickers), nil
	})
	registry.Register(store.MarketUKCH, func() (market.Searcher, error) {
		return market.NewCHSearcher(client), nil
	})
	registry.Register(store.MarketESEF, func() (market.Searcher, error) {
		return market.NewESEFSearcher(client, cfg.ESEF.BaseURL), nil
	})
	return registry
}

func parseDateFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse date %q", value)
	}
	return t, nil
}

func init() {
	searchCmd.Flags().StringVar(&searchFlags.market, "market", store.MarketSEC, "market to search (sec, uk_frc, esef)")
	searchCmd.Flags().StringVar(&searchFlags.identifier, "identifier", "", "market identifier (CIK/ticker, company number, LEI)")
	searchCmd.Flags().StringVar(&searchFlags.name, "name", "", "company name to search by")
	searchCmd.Flags().StringVar(&searchFlags.form, "form", "", "form type filter (e.g. 10-K, AA, AFR)")
	searchCmd.Flags().IntVar(&searchFlags.max, "max", 10, "maximum filings to return")
	searchCmd.Flags().StringVar(&searchFlags.from, "from", "", "earliest filing date (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchFlags.to, "to", "", "latest filing date (YYYY-MM-DD)")
	rootCmd.AddCommand(searchCmd)
}
