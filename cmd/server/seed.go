/*
seed.go - Demo data loader

PURPOSE:
  Populates a fresh database with a minimal walkthrough fixture so the HTTP
  surface can be exercised immediately after startup: one tenant, two staff
  members, a two-line service package, and a draft booking ready to confirm.

USAGE:
  ./server -db=":memory:" -seed

SEE ALSO:
  - store/sqlite/sqlite.go: SavePackage / SaveStaff / SaveBooking helpers
*/
package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tidework/ops-engine/engine"
	"github.com/tidework/ops-engine/store/sqlite"
)

const (
	seedTenant  = engine.TenantID("demo")
	seedPackage = engine.PackageID("pkg-standard")
	seedBooking = engine.BookingID("bk-demo-1")
)

// seedDemoData writes the demo fixture. Idempotent: helpers upsert, so
// running with -seed against an existing database is safe.
func seedDemoData(ctx context.Context, store *sqlite.Store, logger *zap.Logger, currency string) error {
	money := func(v string) engine.Money {
		return engine.Money{Value: engine.MustParseDecimal(v), Currency: currency}
	}

	pkg := engine.ServicePackage{
		ID:                 seedPackage,
		TenantID:           seedTenant,
		Name:               "Standard Coverage",
		RequiredStaffCount: 2,
		Items: []engine.PackageItem{
			{TaskTypeName: "Photography", Quantity: 2, Commission: money("50")},
			{TaskTypeName: "Editing", Quantity: 1, Commission: money("30")},
		},
	}
	if err := store.SavePackage(ctx, pkg); err != nil {
		return err
	}

	staff := []engine.StaffMember{
		{UserID: "staff-ana", Email: "ana@demo.test"},
		{UserID: "staff-bo", Email: "bo@demo.test"},
	}
	for _, s := range staff {
		if err := store.SaveStaff(ctx, seedTenant, s, seedPackage); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	eventDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 14)
	booking := engine.Booking{
		ID:              seedBooking,
		TenantID:        seedTenant,
		Status:          engine.BookingDraft,
		PackageID:       seedPackage,
		EventDate:       eventDate,
		StartTime:       "10:00",
		DurationMinutes: 120,
		TotalPrice:      money("500"),
		SubTotal:        money("450"),
		Tax:             money("50"),
		Deposit:         money("100"),
		AmountPaid:      money("100"),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.SaveBooking(ctx, booking); err != nil {
		return err
	}

	logger.Info("demo data seeded",
		zap.String("tenant", string(seedTenant)),
		zap.String("booking_id", string(seedBooking)),
		zap.String("package_id", string(seedPackage)))
	return nil
}
