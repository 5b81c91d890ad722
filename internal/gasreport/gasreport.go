// Package gasreport renders the gas cost of a deployment.
package gasreport

import (
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"

	"github.com/shopspring/decimal"
)

var (
	weiPerGwei  = decimal.New(1, 9)
	weiPerEther = decimal.New(1, 18)
)

// Report is the gas usage of one deployment
type Report struct {
	Contract string
	Network  string
	Currency string
	GasUsed  uint64
	// GasPrice is the effective price paid per gas in wei
	GasPrice *big.Int
}

// GasPriceGwei returns the effective gas price in gwei
func (r *Report) GasPriceGwei() decimal.Decimal {
	if r.GasPrice == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(r.GasPrice, 0).Div(weiPerGwei)
}

// CostWei returns gas used times the effective gas price
func (r *Report) CostWei() decimal.Decimal {
	if r.GasPrice == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(r.GasPrice, 0).Mul(decimal.NewFromInt(int64(r.GasUsed)))
}

// Cost returns the deployment cost in the network's native currency
func (r *Report) Cost() decimal.Decimal {
	return r.CostWei().Div(weiPerEther)
}

// Render writes the report as an aligned table
func (r *Report) Render(w io.Writer) error {
	currency := r.Currency
	if currency == "" {
		currency = "ETH"
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTRACT\tNETWORK\tGAS USED\tGAS PRICE (GWEI)\tCOST ("+currency+")")
	fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
		r.Contract,
		r.Network,
		r.GasUsed,
		r.GasPriceGwei().StringFixed(3),
		r.Cost().StringFixed(8),
	)
	return tw.Flush()
}
