package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

var fixedNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	sent chan string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	select {
	case n.sent <- text:
	default:
	}
}

type fixture struct {
	store    *db.Store
	registry *Registry
	svc      *Service
	notes    *recordingNotifier
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func strPtr(s string) *string { return &s }

// newFixture opens a fresh SQLite database. When initial is non-nil it is
// written as the configuration row.
func newFixture(t *testing.T, initial *models.Configuration) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "rifas.db"), "",
		db.WithLogger(quietLogger()), db.WithMaxAttempts(5), db.WithBackoff(2*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if initial != nil {
		require.NoError(t, store.InsertConfiguration(ctx, initial))
	}

	log := quietLogger()
	registry := NewRegistry(store, NewMemoryCache(time.Minute), nil, log)
	notes := &recordingNotifier{sent: make(chan string, 64)}
	svc := New(store, registry, log, WithNotifier(notes), WithClock(func() time.Time { return fixedNow }))
	return &fixture{store: store, registry: registry, svc: svc, notes: notes}
}

// openDraw is an open draw on 2025-01-15 with no sales yet.
func openDraw() *models.Configuration {
	cfg := models.DefaultConfiguration()
	cfg.DrawDate = strPtr("2025-01-15")
	return cfg
}

func request(numbers ...string) ReserveRequest {
	return ReserveRequest{
		Numbers:          numbers,
		BuyerName:        "A",
		BuyerPhone:       "1",
		PaymentMethod:    "x",
		PaymentReference: "r",
		ValueUSD:         2,
		ValueLocal:       72,
		AppliedRate:      36,
		DrawDate:         "2025-01-15",
	}
}

func (f *fixture) config(t *testing.T) *models.Configuration {
	t.Helper()
	cfg, err := f.store.LoadConfiguration(context.Background())
	require.NoError(t, err)
	return cfg
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	e, ok := AsError(err)
	require.True(t, ok, "expected a service error, got %T: %v", err, err)
	require.Equal(t, kind, e.Kind, "message: %s", e.Message)
	return e
}

func TestReserveHappyPath(t *testing.T) {
	f := newFixture(t, openDraw())
	ctx := context.Background()

	sale, err := f.svc.Reserve(ctx, request("042", "007"))
	require.NoError(t, err)
	require.Equal(t, "0001", sale.TicketNumber)
	require.Equal(t, models.StatusPending, sale.Status)
	require.Equal(t, int64(1), sale.DrawCorrelative)
	require.Equal(t, "2025-01-15", sale.DrawDate)
	require.Equal(t, models.StringList{"007", "042"}, sale.Numbers)
	require.True(t, sale.PurchaseTimestamp.Equal(fixedNow))
	require.True(t, sale.StatusTransitionAt.Equal(fixedNow))
	require.NotEmpty(t, sale.ID)

	require.Equal(t, int64(1), f.config(t).LastTicketNumber)

	stored, err := f.svc.GetSale(ctx, 0, "0001")
	require.NoError(t, err)
	require.Equal(t, sale.ID, stored.ID)

	select {
	case note := <-f.notes.sent:
		require.Contains(t, note, "#0001")
		require.Contains(t, note, "007, 042")
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
	}
}

func TestReserveKeepsClientPurchaseTimestamp(t *testing.T) {
	f := newFixture(t, openDraw())
	at := time.Date(2025, 1, 9, 8, 15, 0, 0, time.FixedZone("VET", -4*3600))

	req := request("010")
	req.PurchaseTimestamp = &at
	sale, err := f.svc.Reserve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, sale.PurchaseTimestamp.Equal(at))
	require.True(t, sale.StatusTransitionAt.Equal(fixedNow))
}

func TestReserveConflict(t *testing.T) {
	f := newFixture(t, openDraw())
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, request("007", "042"))
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, request("099", "042"))
	require.ErrorIs(t, err, ErrNumberConflict)
	e := requireKind(t, err, KindNumberConflict)
	require.Equal(t, []string{"042"}, e.Details["conflicting"])

	require.Equal(t, int64(1), f.config(t).LastTicketNumber)
	sales, err := f.svc.ListSales(ctx, db.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
}

func TestCancelFreesNumbers(t *testing.T) {
	f := newFixture(t, openDraw())
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, request("007", "042"))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, 0, "0001", "pago no recibido")
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, cancelled.Status)
	require.Equal(t, "pago no recibido", cancelled.StatusReason)

	sale, err := f.svc.Reserve(ctx, request("007"))
	require.NoError(t, err)
	require.Equal(t, "0002", sale.TicketNumber)
}

func TestReserveDrawDateMismatch(t *testing.T) {
	f := newFixture(t, openDraw())

	req := request("007")
	req.DrawDate = "2025-01-14"
	_, err := f.svc.Reserve(context.Background(), req)
	e := requireKind(t, err, KindDrawDateMismatch)
	require.ErrorIs(t, err, ErrDrawDateMismatch)
	require.Equal(t, "2025-01-15", e.Details["currentDrawDate"])
	require.Equal(t, int64(0), f.config(t).LastTicketNumber)
}

func TestReserveWithoutDrawDate(t *testing.T) {
	f := newFixture(t, models.DefaultConfiguration())

	req := request("007")
	req.DrawDate = ""
	_, err := f.svc.Reserve(context.Background(), req)
	requireKind(t, err, KindDrawDateMismatch)
}

func TestReserveBlocked(t *testing.T) {
	cfg := openDraw()
	cfg.PageBlocked = true
	cfg.BlockReasonMessage = "Ventas cerradas"
	f := newFixture(t, cfg)
	ctx := context.Background()

	// Blocked wins over every other failure.
	bad := request("abc")
	bad.DrawDate = "1999-01-01"
	for _, req := range []ReserveRequest{request("007"), bad} {
		_, err := f.svc.Reserve(ctx, req)
		e := requireKind(t, err, KindPageBlocked)
		require.ErrorIs(t, err, ErrPageBlocked)
		require.Equal(t, "Ventas cerradas", e.Message)
	}

	avail, err := f.svc.Available(ctx)
	require.NoError(t, err)
	require.Empty(t, avail.Numbers)
	require.True(t, avail.PageBlocked)
	require.Equal(t, "Ventas cerradas", avail.BlockReasonMessage)
}

func TestReserveValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *ReserveRequest)
		field  string
	}{
		{"no numbers", func(r *ReserveRequest) { r.Numbers = nil }, "numbers"},
		{"empty numbers", func(r *ReserveRequest) { r.Numbers = []string{} }, "numbers"},
		{"two digits", func(r *ReserveRequest) { r.Numbers = []string{"07"} }, "numbers[0]"},
		{"four digits", func(r *ReserveRequest) { r.Numbers = []string{"007", "1000"} }, "numbers[1]"},
		{"letters", func(r *ReserveRequest) { r.Numbers = []string{"a12"} }, "numbers[0]"},
		{"duplicate", func(r *ReserveRequest) { r.Numbers = []string{"007", "007"} }, "numbers"},
		{"padded", func(r *ReserveRequest) { r.Numbers = []string{" 007"} }, "numbers[0]"},
		{"trailing newline", func(r *ReserveRequest) { r.Numbers = []string{"007\n"} }, "numbers[0]"},
		{"blank name", func(r *ReserveRequest) { r.BuyerName = "   " }, "buyerName"},
		{"blank phone", func(r *ReserveRequest) { r.BuyerPhone = "" }, "buyerPhone"},
		{"blank method", func(r *ReserveRequest) { r.PaymentMethod = "" }, "paymentMethod"},
		{"blank reference", func(r *ReserveRequest) { r.PaymentReference = "" }, "paymentReference"},
		{"zero usd", func(r *ReserveRequest) { r.ValueUSD = 0 }, "valueUsd"},
		{"negative local", func(r *ReserveRequest) { r.ValueLocal = -1 }, "valueLocal"},
		{"zero rate", func(r *ReserveRequest) { r.AppliedRate = 0 }, "appliedRate"},
		{"bad email", func(r *ReserveRequest) { r.BuyerEmail = "not-an-email" }, "buyerEmail"},
	}

	f := newFixture(t, openDraw())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("007")
			tt.mutate(&req)
			_, err := f.svc.Reserve(context.Background(), req)
			e := requireKind(t, err, KindValidation)
			require.Equal(t, tt.field, e.Details["field"])
		})
	}
	require.Equal(t, int64(0), f.config(t).LastTicketNumber)
}

func TestCloseDraw(t *testing.T) {
	cfg := openDraw()
	cfg.LastTicketNumber = 7
	cfg.PageBlocked = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	// Sales of the old draw hold some numbers.
	for i, n := range []string{"001", "500", "999"} {
		sale := &models.Sale{
			ID: fmt.Sprintf("old-%d", i), TicketNumber: formatTicket(int64(i + 1)), DrawCorrelative: 1,
			DrawDate: "2025-01-15", Numbers: models.StringList{n}, BuyerName: "B", BuyerPhone: "2",
			PaymentMethod: "x", PaymentReference: "r", ValueUSD: 1, ValueLocal: 36, AppliedRate: 36,
			Status: models.StatusConfirmed,
		}
		require.NoError(t, f.store.InsertSale(ctx, sale))
	}

	next, err := f.svc.CloseDraw(ctx, "2025-01-22")
	require.NoError(t, err)
	require.Equal(t, int64(2), next.DrawCorrelative)
	require.Equal(t, int64(0), next.LastTicketNumber)
	require.Equal(t, "2025-01-22", *next.DrawDate)
	require.False(t, next.PageBlocked)

	stored := f.config(t)
	require.Equal(t, int64(2), stored.DrawCorrelative)
	require.Equal(t, int64(0), stored.LastTicketNumber)

	avail, err := f.svc.Available(ctx)
	require.NoError(t, err)
	require.Len(t, avail.Numbers, UniverseSize)
	require.Equal(t, int64(2), avail.DrawCorrelative)

	// Past sales are untouched and still addressable by their draw.
	old, err := f.svc.GetSale(ctx, 1, "0001")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, old.Status)

	req := request("500")
	req.DrawDate = "2025-01-22"
	sale, err := f.svc.Reserve(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "0001", sale.TicketNumber)
	require.Equal(t, int64(2), sale.DrawCorrelative)
}

func TestCloseDrawRejectsBadDate(t *testing.T) {
	f := newFixture(t, openDraw())
	for _, d := range []string{"", "2025-13-01", "15/01/2025"} {
		_, err := f.svc.CloseDraw(context.Background(), d)
		requireKind(t, err, KindValidation)
	}
	require.Equal(t, int64(1), f.config(t).DrawCorrelative)
}

func TestConcurrentReserveSameNumber(t *testing.T) {
	f := newFixture(t, openDraw())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Reserve(context.Background(), request("100"))
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNumberConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflicts)
	require.Equal(t, int64(1), f.config(t).LastTicketNumber)
}

func TestAvailabilityUniverse(t *testing.T) {
	f := newFixture(t, openDraw())
	ctx := context.Background()

	avail, err := f.svc.Available(ctx)
	require.NoError(t, err)
	require.Len(t, avail.Numbers, UniverseSize)
	require.Equal(t, "000", avail.Numbers[0])
	require.Equal(t, "999", avail.Numbers[UniverseSize-1])
	require.True(t, sort.StringsAreSorted(avail.Numbers))

	_, err = f.svc.Reserve(ctx, request("007", "042"))
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, request("500"))
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, request("999"))
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, 0, "0002", "")
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, 0, "0003", "")
	require.NoError(t, err)
	_, err = f.svc.Void(ctx, 0, "0001", "duplicado")
	require.NoError(t, err)

	avail, err = f.svc.Available(ctx)
	require.NoError(t, err)
	require.Len(t, avail.Numbers, UniverseSize-2)
	require.NotContains(t, avail.Numbers, "500")
	require.NotContains(t, avail.Numbers, "999")
	require.Contains(t, avail.Numbers, "007")
	require.True(t, sort.StringsAreSorted(avail.Numbers))
}

func TestAvailabilityWithoutDraw(t *testing.T) {
	f := newFixture(t, nil)

	avail, err := f.svc.Available(context.Background())
	require.NoError(t, err)
	require.True(t, avail.NoDrawConfigured)
	require.Empty(t, avail.Numbers)
	require.Nil(t, avail.DrawDate)
	require.Equal(t, int64(1), avail.DrawCorrelative)
}

// Random reserve, cancel and void operations from concurrent buyers never
// double-book a number and never leave a gap in the ticket sequence.
func TestReservationsStayDisjointUnderInterleaving(t *testing.T) {
	f := newFixture(t, openDraw())
	ctx := context.Background()

	const workers, opsPerWorker = 6, 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, 42))
			for i := 0; i < opsPerWorker; i++ {
				var err error
				switch rng.IntN(4) {
				case 0, 1:
					n := 1 + rng.IntN(3)
					numbers := make([]string, 0, n)
					seen := map[string]bool{}
					for len(numbers) < n {
						num := fmt.Sprintf("%03d", rng.IntN(25))
						if !seen[num] {
							seen[num] = true
							numbers = append(numbers, num)
						}
					}
					_, err = f.svc.Reserve(ctx, request(numbers...))
				case 2:
					_, err = f.svc.Cancel(ctx, 0, formatTicket(int64(1+rng.IntN(30))), "")
				case 3:
					_, err = f.svc.Void(ctx, 0, formatTicket(int64(1+rng.IntN(30))), "")
				}
				if err != nil {
					for _, allowed := range []error{ErrNumberConflict, ErrNotFound, ErrAlreadyInState, ErrInvalidTransition, ErrTransientConflict} {
						if errors.Is(err, allowed) {
							err = nil
							break
						}
					}
					if err != nil {
						t.Errorf("unexpected error: %v", err)
						return
					}
				}
			}
		}(uint64(w + 1))
	}
	wg.Wait()

	cfg := f.config(t)
	sales, err := f.svc.ListSales(ctx, db.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, int(cfg.LastTicketNumber))

	held := map[string]string{}
	for i, sale := range sales {
		require.Equal(t, formatTicket(int64(i+1)), sale.TicketNumber)
		if !sale.Status.Reserves() {
			continue
		}
		for _, n := range sale.Numbers {
			owner, dup := held[n]
			require.False(t, dup, "number %s held by %s and %s", n, owner, sale.TicketNumber)
			held[n] = sale.TicketNumber
		}
	}

	avail, err := f.svc.Available(ctx)
	require.NoError(t, err)
	require.Equal(t, UniverseSize, len(avail.Numbers)+len(held))
}

func TestListSalesFilters(t *testing.T) {
	f := newFixture(t, openDraw())
	ctx := context.Background()

	for _, n := range []string{"001", "002", "003"} {
		_, err := f.svc.Reserve(ctx, request(n))
		require.NoError(t, err)
	}
	_, err := f.svc.Confirm(ctx, 0, "0002", "")
	require.NoError(t, err)

	confirmed, err := f.svc.ListSales(ctx, db.SaleFilter{Statuses: []models.SaleStatus{models.StatusConfirmed}})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	require.Equal(t, "0002", confirmed[0].TicketNumber)

	_, err = f.svc.ListSales(ctx, db.SaleFilter{Statuses: []models.SaleStatus{"paid"}})
	requireKind(t, err, KindValidation)

	other, err := f.svc.ListSales(ctx, db.SaleFilter{DrawCorrelative: 9})
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestGetSaleNotFound(t *testing.T) {
	f := newFixture(t, openDraw())
	_, err := f.svc.GetSale(context.Background(), 0, "0042")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReserveTimeout(t *testing.T) {
	f := newFixture(t, openDraw())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Reserve(ctx, request("007"))
	requireKind(t, err, KindTimeout)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, int64(0), f.config(t).LastTicketNumber)
}

func TestTicketNumbersPast9999(t *testing.T) {
	cfg := openDraw()
	cfg.LastTicketNumber = 9998
	f := newFixture(t, cfg)
	ctx := context.Background()

	first, err := f.svc.Reserve(ctx, request("001"))
	require.NoError(t, err)
	require.Equal(t, "9999", first.TicketNumber)
	second, err := f.svc.Reserve(ctx, request("002"))
	require.NoError(t, err)
	require.Equal(t, "10000", second.TicketNumber)

	sales, err := f.svc.ListSales(ctx, db.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	require.Equal(t, "9999", sales[0].TicketNumber)
	require.Equal(t, "10000", sales[1].TicketNumber)

	got, err := f.svc.GetSale(ctx, 0, "10000")
	require.NoError(t, err)
	require.Equal(t, models.StringList{"002"}, got.Numbers)
}
