package analytics

import "github.com/shopspring/decimal"

// Aggregate sums record amounts per bucket. Empty input yields an empty map.
func Aggregate(records []TimedAmount, scheme Scheme) map[BucketKey]decimal.Decimal {
	sums := make(map[BucketKey]decimal.Decimal)
	for _, r := range records {
		key := AssignBucket(r.Timestamp, scheme)
		sums[key] = sums[key].Add(r.Amount)
	}
	return sums
}

// Sum returns the total of all record amounts.
func Sum(records []TimedAmount) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total
}
