package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is one invoice line of the retail dataset.
type Transaction struct {
	InvoiceNo   string
	StockCode   string
	Description string
	Quantity    int64
	InvoiceDate time.Time
	UnitPrice   decimal.Decimal
	CustomerID  string
	Country     string
}

// ProductFeatures is the per-StockCode aggregate used as clustering input.
type ProductFeatures struct {
	StockCode         string          `json:"stock_code"`
	Description       string          `json:"description"`
	TotalQuantitySold int64           `json:"total_quantity_sold"`
	AvgUnitPrice      decimal.Decimal `json:"avg_unit_price"`
	TransactionCount  int             `json:"transaction_count"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
}

// FeatureVector returns the three clustering features in column order.
func (p ProductFeatures) FeatureVector() []float64 {
	return []float64{
		float64(p.TotalQuantitySold),
		p.AvgUnitPrice.InexactFloat64(),
		float64(p.TransactionCount),
	}
}

// FeatureNames matches the column order of FeatureVector.
var FeatureNames = []string{"TotalQuantitySold", "AvgUnitPrice", "TransactionCount"}

type LoadStats struct {
	RowsRead     int64 `json:"rows_read"`
	RowsDropped  int64 `json:"rows_dropped"`
	RowsRejected int64 `json:"rows_rejected"`
	RowsValid    int64 `json:"rows_valid"`
}

type ClusterSummary struct {
	Cluster              int     `json:"cluster"`
	Size                 int     `json:"size"`
	MeanQuantitySold     float64 `json:"total_quantity_sold"`
	MeanAvgUnitPrice     float64 `json:"avg_unit_price"`
	MeanTransactionCount float64 `json:"transaction_count"`
	MeanRevenue          float64 `json:"total_revenue"`
}

type ElbowPoint struct {
	K    int     `json:"k"`
	WCSS float64 `json:"wcss"`
}

// ProductAssignment pairs a product row with its cluster label.
type ProductAssignment struct {
	ProductFeatures
	Cluster int `json:"cluster"`
}

// Segmentation is the result of one pipeline run.
type Segmentation struct {
	RunID      uuid.UUID         `json:"run_id"`
	Source     string            `json:"source"`
	Method     string            `json:"method"`
	Clusters   int               `json:"clusters"`
	Products   []ProductFeatures `json:"-"`
	Labels     []int             `json:"-"`
	Summaries  []ClusterSummary  `json:"summaries"`
	Stats      LoadStats         `json:"load_stats"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Assignments zips products with their labels.
func (s *Segmentation) Assignments() []ProductAssignment {
	out := make([]ProductAssignment, len(s.Products))
	for i, p := range s.Products {
		out[i] = ProductAssignment{ProductFeatures: p, Cluster: s.Labels[i]}
	}
	return out
}
