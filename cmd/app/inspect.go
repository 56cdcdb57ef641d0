package main

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"predict_go/internal/domain"
	"predict_go/internal/infra"
	"predict_go/internal/infra/storage"

	"github.com/spf13/cobra"
)

var (
	signalsLimit  int
	signalsTicker string
)

// openStorage opens the configured database without starting any agent.
func openStorage() (*storage.Storage, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Storage.Path)
}

var signalsCmd = &cobra.Command{
	Use:     "signals",
	Short:   "Show the most recent ledger entries",
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		ledger := storage.NewLedger(store)
		var signals []domain.Signal
		if signalsTicker != "" {
			signals, err = ledger.ByTicker(ctx, signalsTicker, signalsLimit)
		} else {
			signals, err = ledger.Latest(ctx, signalsLimit)
		}
		if err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}

		if jsonOutput {
			return printJSON(signals)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTICKER\tVERDICT\tEV\tCONFIDENCE\tREASON\tID")
		for _, s := range signals {
			fmt.Fprintf(w, "%s\t%s\t%s\t%+.4f\t%.4f\t%s\t%s\n",
				s.Timestamp.Format("2006-01-02 15:04:05"), s.Ticker, s.Verdict, s.EV, s.Confidence, s.Reason, s.ID)
		}
		return w.Flush()
	},
}

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Show pending work per queue lane",
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		q := storage.NewSynapse(store, &infra.Metrics{})
		type laneStats struct {
			Pending     int64 `json:"pending"`
			DeadLetters int64 `json:"dead_letters"`
		}
		lanes := []domain.Lane{domain.LaneOpportunities, domain.LaneExecutions}
		stats := make(map[string]laneStats, len(lanes))
		for _, lane := range lanes {
			n, err := q.Size(ctx, lane)
			if err != nil {
				return err
			}
			dead, err := q.DeadLetters(ctx, lane)
			if err != nil {
				return err
			}
			stats[string(lane)] = laneStats{Pending: n, DeadLetters: dead}
		}

		if jsonOutput {
			return printJSON(stats)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LANE	PENDING	DEAD")
		for _, lane := range lanes {
			st := stats[string(lane)]
			fmt.Fprintf(w, "%s\t%d\t%d\n", lane, st.Pending, st.DeadLetters)
		}
		return w.Flush()
	},
}

var vaultCmd = &cobra.Command{
	Use:     "vault",
	Short:   "Show the persisted vault settings",
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		settings, err := store.LoadConfigMap(context.Background())
		if err != nil {
			return fmt.Errorf("reading settings: %w", err)
		}

		if jsonOutput {
			return printJSON(settings)
		}
		keys := slices.Sorted(maps.Keys(settings))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\n", k, settings[k])
		}
		return w.Flush()
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	signalsCmd.Flags().IntVarP(&signalsLimit, "limit", "n", 20, "number of entries")
	signalsCmd.Flags().StringVar(&signalsTicker, "ticker", "", "only entries for this ticker")
}
