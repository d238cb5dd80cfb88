package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/yieldrun/internal/application"
	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

func addDaysFlag(fs *pflag.FlagSet, days *int) {
	fs.IntVar(days, "days", 30, "Lookback window in days")
}

func newTopCmd() *cobra.Command {
	var (
		limit  int
		minTVL float64
	)
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Top ranked yield opportunities",
		Long:  "Ranks filtered pools by apy·√(tvl/1e6) and prints the best ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.GetTopYieldOpportunities(ctx, limit, minTVL)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of pools to return")
	cmd.Flags().Float64Var(&minTVL, "min-tvl", 0, "Minimum pool TVL in USD (0 uses the configured floor)")
	return cmd
}

func newStablecoinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stablecoins",
		Short: "Stablecoin yields with on-chain and static fallbacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.GetStablecoinYields(ctx)
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token SYMBOL",
		Short: "Pools holding a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.GetTokenYieldOpportunities(ctx, args[0])
			})
		},
	}
}

func newProtocolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocol NAME",
		Short: "Pools of one protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.GetPoolsByProtocol(ctx, args[0])
			})
		},
	}
}

func newRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk PROTOCOL",
		Short: "Five-dimension risk score of a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.CalculateProtocolRisk(ctx, args[0]), nil
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "history POOL_ID",
		Short: "Historical APY and TVL of a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.GetPoolHistoricalData(ctx, args[0], days)
			})
		},
	}
	addDaysFlag(cmd.Flags(), &days)
	return cmd
}

func newTrendCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "trend POOL_ID",
		Short: "Trend, volatility and risk of a pool's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.AnalyzePoolTrends(ctx, args[0], days)
			})
		},
	}
	addDaysFlag(cmd.Flags(), &days)
	return cmd
}

func newPortfolioCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Analyze a set of positions",
		Long: `Reads positions from a JSON or YAML file, either as a list or under a
"positions" key:

  positions:
    - {protocol: aave-v3, asset: USDC, amount: 5000, apy: 4.2}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := loadPositions(file)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.AnalyzePortfolio(ctx, positions), nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Positions file (.json, .yaml or .yml)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newILCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "il PRICE_CHANGE_PCT",
		Short: "Impermanent loss for a relative price change",
		Example: `  yieldrun il 100    # price doubles: 5.72% loss
  yieldrun il -50    # price halves`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			change, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("%w: price change %q is not a number", yield.ErrInvalidArgument, args[0])
			}
			// Pure computation; no upstream wiring needed.
			e := application.NewEngine(config.Default(), application.Deps{})
			return printJSON(cmd.OutOrStdout(), map[string]float64{
				"price_change_pct": change,
				"loss_pct":         e.CalculateImpermanentLoss(change),
			})
		},
	}
}

func newAllocateCmd() *cobra.Command {
	var (
		symbol string
		amount float64
		risk   string
	)
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Tiered allocation across stable, blue-chip and risk-asset pools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, ok := yield.ParseRiskTier(risk)
			if !ok {
				return fmt.Errorf("%w: unknown risk tier %q", yield.ErrInvalidArgument, risk)
			}
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.RecommendAllocation(ctx, symbol, amount, tier)
			})
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "Preferred token (pools holding it rank first)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Amount in USD to allocate")
	cmd.Flags().StringVar(&risk, "risk", "moderate", "Risk tier (conservative|moderate|aggressive)")
	return cmd
}

func newOverviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Market overview across every upstream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *application.Engine) (interface{}, error) {
				return e.GetMarketOverview(ctx), nil
			})
		},
	}
}

type positionsFile struct {
	Positions []yield.Position `json:"positions" yaml:"positions"`
}

// loadPositions accepts a bare list or a {"positions": [...]} document.
func loadPositions(path string) ([]yield.Position, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}

	var (
		list []yield.Position
		doc  positionsFile
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &list); err != nil {
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("failed to parse positions: %w", err)
			}
			list = doc.Positions
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &list); err != nil {
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("failed to parse positions: %w", err)
			}
			list = doc.Positions
		}
	default:
		return nil, fmt.Errorf("%w: positions file must be .json, .yaml or .yml", yield.ErrInvalidArgument)
	}

	for i, p := range list {
		if p.Amount < 0 {
			return nil, fmt.Errorf("%w: position %d has a negative amount", yield.ErrInvalidArgument, i)
		}
	}
	return list, nil
}
