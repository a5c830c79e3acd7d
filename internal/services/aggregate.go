package services

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"retail-segments/internal/models"
)

type productAccumulator struct {
	description string
	quantity    int64
	priceSum    decimal.Decimal
	rows        int64
	invoices    map[string]struct{}
}

// AggregateProducts groups transactions by StockCode. The description is
// taken from the first row seen, the average price is the unweighted mean of
// row prices, and revenue is total quantity times that average. Products are
// returned sorted by StockCode.
func AggregateProducts(txs []models.Transaction) []models.ProductFeatures {
	groups := make(map[string]*productAccumulator)
	for _, tx := range txs {
		acc := groups[tx.StockCode]
		if acc == nil {
			acc = &productAccumulator{
				description: tx.Description,
				invoices:    make(map[string]struct{}),
			}
			groups[tx.StockCode] = acc
		}
		acc.quantity += tx.Quantity
		acc.priceSum = acc.priceSum.Add(tx.UnitPrice)
		acc.rows++
		acc.invoices[tx.InvoiceNo] = struct{}{}
	}

	products := make([]models.ProductFeatures, 0, len(groups))
	for code, acc := range groups {
		avg := acc.priceSum.Div(decimal.NewFromInt(acc.rows))
		products = append(products, models.ProductFeatures{
			StockCode:         code,
			Description:       acc.description,
			TotalQuantitySold: acc.quantity,
			AvgUnitPrice:      avg,
			TransactionCount:  len(acc.invoices),
			TotalRevenue:      avg.Mul(decimal.NewFromInt(acc.quantity)),
		})
	}
	slices.SortFunc(products, func(a, b models.ProductFeatures) int {
		return strings.Compare(a.StockCode, b.StockCode)
	})
	return products
}

// FeatureRows returns the clustering feature vector of every product.
func FeatureRows(products []models.ProductFeatures) [][]float64 {
	rows := make([][]float64, len(products))
	for i, p := range products {
		rows[i] = p.FeatureVector()
	}
	return rows
}
