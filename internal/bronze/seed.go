package bronze

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"
)

// SeedOptions tunes synthetic raw data.
type SeedOptions struct {
	Rows int
	// Seed makes the output reproducible; 0 picks a random seed.
	Seed int64
	// MissingIDRate is the share of rows written without an id, so
	// not-null rules have something to catch.
	MissingIDRate float64
	// DuplicateRate is the share of rows that repeat an earlier email.
	DuplicateRate float64
}

// Seed inserts synthetic customer-like documents with loosely named
// fields (cust_id, cust_name, email, signup, amt, city).
func (r *Reader) Seed(ctx context.Context, ref Ref, opt SeedOptions) (int, error) {
	if opt.Rows <= 0 {
		return 0, fmt.Errorf("bronze: seed needs a positive row count")
	}
	f := gofakeit.New(opt.Seed)
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	docs := make([]map[string]any, 0, opt.Rows)
	var emails []string
	for i := 0; i < opt.Rows; i++ {
		email := f.Email()
		if len(emails) > 0 && f.Float64Range(0, 1) < opt.DuplicateRate {
			email = emails[f.Number(0, len(emails)-1)]
		}
		emails = append(emails, email)

		doc := map[string]any{
			"cust_name": "  " + f.Name() + " ",
			"email":     email,
			"signup":    f.DateRange(start, end).Format(time.DateOnly),
			"amt":       f.Price(1, 5000),
			"city":      f.City(),
		}
		if f.Float64Range(0, 1) >= opt.MissingIDRate {
			doc["cust_id"] = fmt.Sprintf("C%06d", i+1)
		}
		docs = append(docs, doc)
	}
	n, err := r.Insert(ctx, ref, "seed", docs)
	if err != nil {
		return 0, err
	}
	r.log.Info("bronze seeded", zap.String("table", r.fqn(ref)), zap.Int("rows", n), zap.Int64("seed", opt.Seed))
	return n, nil
}
