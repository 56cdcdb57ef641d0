package main

import (
	"encoding/json"
	"fmt"

	"predict_go/internal/engine"

	"github.com/spf13/cobra"
)

var (
	simPrice      float64
	simProb       float64
	simIterations int
	simSeed       uint64
)

var simulateCmd = &cobra.Command{
	Use:     "simulate",
	Short:   "Run one Monte-Carlo valuation without starting the agents",
	GroupID: "engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []engine.Option
		if simSeed != 0 {
			opts = append(opts, engine.WithSeed(simSeed))
		}
		est, err := engine.NewSimulator(simIterations, opts...).Evaluate(simPrice, simProb)
		if err != nil {
			return err
		}
		kelly := engine.KellyFraction(simPrice, simProb)

		if jsonOutput {
			data, err := json.MarshalIndent(struct {
				engine.Estimate
				Kelly float64 `json:"kelly_fraction"`
			}{est, kelly}, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Price:        %.4f\n", simPrice)
		fmt.Printf("Probability:  %.4f\n", simProb)
		fmt.Printf("Iterations:   %d\n", est.Iterations)
		fmt.Printf("EV:           %+.6f (closed form %+.6f, ±%.6f)\n", est.EV, est.ClosedFormEV, engine.Tolerance(est.Iterations))
		fmt.Printf("Win rate:     %.4f\n", est.WinRate)
		fmt.Printf("Variance:     %.6f\n", est.Variance)
		fmt.Printf("Std error:    %.6f\n", est.StdErr)
		fmt.Printf("Kelly:        %.4f\n", kelly)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simPrice, "price", 0.5, "market price of YES in [0,1]")
	simulateCmd.Flags().Float64Var(&simProb, "prob", 0.5, "estimated probability of YES in [0,1]")
	simulateCmd.Flags().IntVar(&simIterations, "iterations", engine.DefaultIterations, "number of trials")
	simulateCmd.Flags().Uint64Var(&simSeed, "seed", 0, "random seed (0 = random)")
}
