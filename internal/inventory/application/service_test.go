package application

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

// In-memory fakes. They copy records in and out by value so a mutation held
// by the service never leaks into the store before SaveQuantities/Save, the
// same way a row read from postgres would behave.

type memStocks struct {
	nextID int64
	recs   map[int64]domain.StockRecord
}

func newMemStocks() *memStocks {
	return &memStocks{recs: map[int64]domain.StockRecord{}}
}

func (m *memStocks) seed(variantID, warehouseID int64, qty, reserved int) int64 {
	m.nextID++
	m.recs[m.nextID] = domain.StockRecord{
		ID: m.nextID, VariantID: variantID, WarehouseID: warehouseID,
		Quantity: qty, ReservedQuantity: reserved, Active: true,
	}
	return m.nextID
}

func (m *memStocks) GetByID(_ context.Context, id int64, _ bool) (*domain.StockRecord, error) {
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *memStocks) FindByVariantAndWarehouse(_ context.Context, variantID, warehouseID int64, _ bool) (*domain.StockRecord, error) {
	for _, rec := range m.recs {
		if rec.VariantID == variantID && rec.WarehouseID == warehouseID {
			r := rec
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStocks) ListByVariant(_ context.Context, variantID int64, _ bool) ([]*domain.StockRecord, error) {
	var out []*domain.StockRecord
	for _, rec := range m.recs {
		if rec.VariantID == variantID {
			r := rec
			out = append(out, &r)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].WarehouseID < out[i].WarehouseID {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *memStocks) Create(_ context.Context, rec *domain.StockRecord) error {
	m.nextID++
	rec.ID = m.nextID
	m.recs[rec.ID] = *rec
	return nil
}

func (m *memStocks) SaveQuantities(_ context.Context, rec *domain.StockRecord) error {
	stored, ok := m.recs[rec.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Quantity = rec.Quantity
	stored.ReservedQuantity = rec.ReservedQuantity
	m.recs[rec.ID] = stored
	return nil
}

func (m *memStocks) SetActive(_ context.Context, id int64, active bool) error {
	stored, ok := m.recs[id]
	if !ok {
		return ErrNotFound
	}
	stored.Active = active
	m.recs[id] = stored
	return nil
}

func (m *memStocks) List(_ context.Context, f StockFilter) ([]*domain.StockRecord, error) {
	var out []*domain.StockRecord
	for _, rec := range m.recs {
		if f.VariantID > 0 && rec.VariantID != f.VariantID {
			continue
		}
		if f.WarehouseID > 0 && rec.WarehouseID != f.WarehouseID {
			continue
		}
		if f.ActiveOnly && !rec.Active {
			continue
		}
		r := rec
		out = append(out, &r)
	}
	return out, nil
}

type memLedger struct {
	nextID int64
	txs    []domain.Transaction
}

func (m *memLedger) Create(_ context.Context, tx *domain.Transaction) error {
	m.nextID++
	tx.ID = m.nextID
	m.txs = append(m.txs, *tx)
	return nil
}

func (m *memLedger) GetByID(_ context.Context, id int64, _ bool) (*domain.Transaction, error) {
	for _, tx := range m.txs {
		if tx.ID == id {
			t := tx
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memLedger) Save(_ context.Context, tx *domain.Transaction) error {
	for i := range m.txs {
		if m.txs[i].ID == tx.ID {
			m.txs[i].Status = tx.Status
			m.txs[i].Note = tx.Note
			m.txs[i].UpdatedBy = tx.UpdatedBy
			m.txs[i].UpdatedAt = tx.UpdatedAt
			return nil
		}
	}
	return ErrNotFound
}

func (m *memLedger) NextDailySequence(_ context.Context, _ time.Time) (int64, error) {
	return int64(len(m.txs)) + 1, nil
}

func (m *memLedger) ListPendingReserves(_ context.Context, orderNumber string) ([]*domain.Transaction, error) {
	return m.collect(func(tx domain.Transaction) bool {
		return tx.ReferenceType == domain.RefOrder && tx.ReferenceCode == orderNumber &&
			tx.Type == domain.TypeReserve && tx.Status == domain.TxPending
	}), nil
}

func (m *memLedger) ListByOrder(_ context.Context, orderNumber string, t domain.TransactionType, statuses ...domain.TransactionStatus) ([]*domain.Transaction, error) {
	return m.collect(func(tx domain.Transaction) bool {
		if tx.ReferenceType != domain.RefOrder || tx.ReferenceCode != orderNumber || tx.Type != t {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if tx.Status == st {
				return true
			}
		}
		return false
	}), nil
}

func (m *memLedger) List(_ context.Context, f TransactionFilter) ([]*domain.Transaction, error) {
	return m.collect(func(tx domain.Transaction) bool {
		if f.Type != "" && tx.Type != f.Type {
			return false
		}
		if f.Status != "" && tx.Status != f.Status {
			return false
		}
		return true
	}), nil
}

func (m *memLedger) collect(keep func(domain.Transaction) bool) []*domain.Transaction {
	var out []*domain.Transaction
	for _, tx := range m.txs {
		if keep(tx) {
			t := tx
			out = append(out, &t)
		}
	}
	return out
}

func (m *memLedger) byCode(code string) *domain.Transaction {
	for i := range m.txs {
		if m.txs[i].Code == code {
			return &m.txs[i]
		}
	}
	return nil
}

type passRunner struct{}

func (passRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type catalogCall struct {
	variantID int64
	status    domain.AvailabilityStatus
	oldQty    int
	newQty    int
	price     float64
}

type fakeCatalog struct {
	statusCalls []catalogCall
	priceCalls  []catalogCall
	fail        bool
}

func (f *fakeCatalog) ChangeVariantStatus(_ context.Context, variantID int64, status domain.AvailabilityStatus) error {
	if f.fail {
		return errors.New("catalog down")
	}
	f.statusCalls = append(f.statusCalls, catalogCall{variantID: variantID, status: status})
	return nil
}

func (f *fakeCatalog) UpdateImportPrice(_ context.Context, variantID int64, oldQty, newQty int, price float64) error {
	if f.fail {
		return errors.New("catalog down")
	}
	f.priceCalls = append(f.priceCalls, catalogCall{variantID: variantID, oldQty: oldQty, newQty: newQty, price: price})
	return nil
}

type orderCall struct {
	orderNumbers []string
	actorID      int64
	statusID     int64
	note         string
}

type fakeOrders struct {
	calls []orderCall
	fail  bool
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, orderNumbers []string, actorID, statusID int64, note string) error {
	if f.fail {
		return errors.New("order service down")
	}
	f.calls = append(f.calls, orderCall{orderNumbers: orderNumbers, actorID: actorID, statusID: statusID, note: note})
	return nil
}

type fakeOutbox struct {
	events []string
}

func (f *fakeOutbox) Enqueue(_ context.Context, _, _, eventType string, _ []byte) error {
	f.events = append(f.events, eventType)
	return nil
}

type fixture struct {
	svc     *Service
	stocks  *memStocks
	ledger  *memLedger
	catalog *fakeCatalog
	orders  *fakeOrders
	outbox  *fakeOutbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		stocks:  newMemStocks(),
		ledger:  &memLedger{},
		catalog: &fakeCatalog{},
		orders:  &fakeOrders{},
		outbox:  &fakeOutbox{},
	}
	f.svc = NewService(slog.New(slog.DiscardHandler), f.stocks, f.ledger, passRunner{}, f.catalog, f.orders, f.outbox)
	f.svc.now = func() time.Time {
		return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	}
	return f
}

func (f *fixture) stock(t *testing.T, id int64) *domain.StockRecord {
	t.Helper()
	rec, err := f.stocks.GetByID(context.Background(), id, false)
	if err != nil {
		t.Fatalf("stock %d: %v", id, err)
	}
	return rec
}

func TestReserveAllocatesAcrossWarehouses(t *testing.T) {
	f := newFixture(t)
	s1 := f.stocks.seed(1, 100, 5, 0)
	s2 := f.stocks.seed(1, 200, 10, 0)

	alloc, err := f.svc.Reserve(context.Background(), 1, 8, "ORD-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if alloc[100] != 5 || alloc[200] != 3 {
		t.Errorf("allocation = %v, want {100:5 200:3}", alloc)
	}
	if got := f.stock(t, s1).ReservedQuantity; got != 5 {
		t.Errorf("warehouse 100 reserved = %d, want 5", got)
	}
	if got := f.stock(t, s2).ReservedQuantity; got != 3 {
		t.Errorf("warehouse 200 reserved = %d, want 3", got)
	}

	reserves, _ := f.ledger.ListPendingReserves(context.Background(), "ORD-1")
	if len(reserves) != 2 {
		t.Fatalf("pending reserves = %d, want 2", len(reserves))
	}
	if reserves[0].Code != "RES-29082026-1" {
		t.Errorf("first code = %q", reserves[0].Code)
	}
}

func TestReserveInsufficientLeavesStockUntouched(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 5, 0)

	_, err := f.svc.Reserve(context.Background(), 1, 6, "ORD-1")
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if got := f.stock(t, id).ReservedQuantity; got != 0 {
		t.Errorf("reserved = %d, want 0", got)
	}
	if len(f.ledger.txs) != 0 {
		t.Errorf("ledger has %d transactions, want 0", len(f.ledger.txs))
	}
}

func TestReserveSkipsInactiveStock(t *testing.T) {
	f := newFixture(t)
	inactive := f.stocks.seed(1, 100, 50, 0)
	rec := f.stocks.recs[inactive]
	rec.Active = false
	f.stocks.recs[inactive] = rec
	f.stocks.seed(1, 200, 4, 0)

	_, err := f.svc.Reserve(context.Background(), 1, 5, "ORD-1")
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t)
	for _, c := range []struct {
		variantID int64
		qty       int
		order     string
	}{
		{0, 5, "ORD-1"},
		{1, 0, "ORD-1"},
		{1, -2, "ORD-1"},
		{1, 5, ""},
	} {
		if _, err := f.svc.Reserve(context.Background(), c.variantID, c.qty, c.order); !errors.Is(err, ErrValidation) {
			t.Errorf("Reserve(%d,%d,%q) err = %v, want ErrValidation", c.variantID, c.qty, c.order, err)
		}
	}
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 20, 0)

	if _, err := f.svc.Reserve(context.Background(), 1, 5, "ORD-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := f.svc.Release(context.Background(), "ORD-1", "customer cancelled", true); err != nil {
		t.Fatalf("Release: %v", err)
	}

	rec := f.stock(t, id)
	if rec.Quantity != 20 || rec.ReservedQuantity != 0 {
		t.Errorf("stock = %d/%d reserved, want 20/0", rec.Quantity, rec.ReservedQuantity)
	}

	reserves, _ := f.ledger.ListPendingReserves(context.Background(), "ORD-1")
	if len(reserves) != 0 {
		t.Errorf("pending reserves after release = %d, want 0", len(reserves))
	}
	var releases int
	for _, tx := range f.ledger.txs {
		if tx.Type == domain.TypeRelease && tx.Status == domain.TxCompleted && tx.Quantity == 5 {
			releases++
		}
	}
	if releases != 1 {
		t.Errorf("completed RELEASE transactions = %d, want 1", releases)
	}
}

func TestReleaseWithoutReservationsIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Release(context.Background(), "ORD-404", "none", true); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(f.ledger.txs) != 0 {
		t.Errorf("ledger has %d transactions, want 0", len(f.ledger.txs))
	}
}

func TestCreateTransactionsExportTakesHold(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 20, 0)

	created, err := f.svc.CreateTransactions(context.Background(), []TransactionInput{
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeExport, Quantity: 5},
	}, 7)
	if err != nil {
		t.Fatalf("CreateTransactions: %v", err)
	}
	if len(created) != 1 || created[0].Status != domain.TxPending {
		t.Fatalf("created = %+v", created)
	}
	if got := f.stock(t, id).ReservedQuantity; got != 5 {
		t.Errorf("reserved = %d, want 5 (export pre-hold)", got)
	}
}

func TestCreateTransactionsExportOverAvailable(t *testing.T) {
	f := newFixture(t)
	f.stocks.seed(1, 100, 5, 3)

	_, err := f.svc.CreateTransactions(context.Background(), []TransactionInput{
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeExport, Quantity: 3},
	}, 7)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
}

func TestCreateTransactionsLazilyCreatesStock(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.CreateTransactions(context.Background(), []TransactionInput{
		{VariantID: 9, WarehouseID: 300, Type: domain.TypeImport, Quantity: 50, PricePerItem: 2.5},
	}, 7)
	if err != nil {
		t.Fatalf("CreateTransactions: %v", err)
	}
	rec, err := f.stocks.FindByVariantAndWarehouse(context.Background(), 9, 300, false)
	if err != nil {
		t.Fatalf("lazily created stock missing: %v", err)
	}
	if rec.Quantity != 0 || !rec.Active {
		t.Errorf("new stock = %+v, want quantity 0 and active", rec)
	}
	if created[0].StockID != rec.ID {
		t.Errorf("transaction bound to stock %d, want %d", created[0].StockID, rec.ID)
	}
}

func TestCreateTransactionsValidation(t *testing.T) {
	f := newFixture(t)
	cases := []TransactionInput{
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeReserve, Quantity: 1},
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeRelease, Quantity: 1},
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeExport, Quantity: 0},
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeExport, Quantity: -4},
		{VariantID: 0, WarehouseID: 100, Type: domain.TypeImport, Quantity: 4},
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeImport, Quantity: 4, ReferenceType: domain.RefPurchaseOrder},
	}
	for i, in := range cases {
		if _, err := f.svc.CreateTransactions(context.Background(), []TransactionInput{in}, 7); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: err = %v, want ErrValidation", i, err)
		}
	}
}

func TestCompleteExportAppliesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 20, 0)
	created, err := f.svc.CreateTransactions(context.Background(), []TransactionInput{
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeExport, Quantity: 5},
	}, 7)
	if err != nil {
		t.Fatalf("CreateTransactions: %v", err)
	}

	if err := f.svc.UpdateTransactionStatus(context.Background(), created[0].ID, domain.TxCompleted, "shipped", 7); err != nil {
		t.Fatalf("UpdateTransactionStatus: %v", err)
	}
	rec := f.stock(t, id)
	if rec.Quantity != 15 || rec.ReservedQuantity != 0 {
		t.Errorf("stock = %d/%d, want 15/0", rec.Quantity, rec.ReservedQuantity)
	}

	err = f.svc.UpdateTransactionStatus(context.Background(), created[0].ID, domain.TxCompleted, "again", 7)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second completion err = %v, want ErrInvalidTransition", err)
	}
	rec = f.stock(t, id)
	if rec.Quantity != 15 || rec.ReservedQuantity != 0 {
		t.Errorf("stock after rejected repeat = %d/%d, want 15/0", rec.Quantity, rec.ReservedQuantity)
	}
}

func TestUpdateStatusRejectsReserveAndBadTargets(t *testing.T) {
	f := newFixture(t)
	f.stocks.seed(1, 100, 20, 0)
	if _, err := f.svc.Reserve(context.Background(), 1, 5, "ORD-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	reserves, _ := f.ledger.ListPendingReserves(context.Background(), "ORD-1")

	if err := f.svc.UpdateTransactionStatus(context.Background(), reserves[0].ID, domain.TxCompleted, "", 7); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reserve completion err = %v, want ErrInvalidTransition", err)
	}
	if err := f.svc.UpdateTransactionStatus(context.Background(), reserves[0].ID, domain.TxPending, "", 7); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("pending target err = %v, want ErrInvalidStatus", err)
	}
}

func TestCompleteAdjustBelowZeroFails(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 3, 0)
	created, err := f.svc.CreateTransactions(context.Background(), []TransactionInput{
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeAdjust, Quantity: -5, Note: "shrinkage"},
	}, 7)
	if err != nil {
		t.Fatalf("CreateTransactions: %v", err)
	}
	err = f.svc.UpdateTransactionStatus(context.Background(), created[0].ID, domain.TxCompleted, "", 7)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if got := f.stock(t, id).Quantity; got != 3 {
		t.Errorf("quantity = %d, want 3", got)
	}
}

func TestCompleteImportPushesPurchasePrice(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 10, 0)
	created, err := f.svc.CreateTransactions(context.Background(), []TransactionInput{
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeImport, Quantity: 40,
			PricePerItem: 3.2, ReferenceType: domain.RefPurchaseOrder, ReferenceCode: "PO-9"},
	}, 7)
	if err != nil {
		t.Fatalf("CreateTransactions: %v", err)
	}
	if err := f.svc.UpdateTransactionStatus(context.Background(), created[0].ID, domain.TxCompleted, "", 7); err != nil {
		t.Fatalf("UpdateTransactionStatus: %v", err)
	}
	if got := f.stock(t, id).Quantity; got != 50 {
		t.Errorf("quantity = %d, want 50", got)
	}
	if len(f.catalog.priceCalls) != 1 {
		t.Fatalf("price calls = %d, want 1", len(f.catalog.priceCalls))
	}
	call := f.catalog.priceCalls[0]
	if call.oldQty != 10 || call.newQty != 50 || call.price != 3.2 {
		t.Errorf("price call = %+v", call)
	}
}

func TestCancelExportReturnsHold(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 20, 0)
	created, err := f.svc.CreateTransactions(context.Background(), []TransactionInput{
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeExport, Quantity: 5},
	}, 7)
	if err != nil {
		t.Fatalf("CreateTransactions: %v", err)
	}
	if err := f.svc.UpdateTransactionStatus(context.Background(), created[0].ID, domain.TxCancelled, "mistake", 7); err != nil {
		t.Fatalf("UpdateTransactionStatus: %v", err)
	}
	rec := f.stock(t, id)
	if rec.Quantity != 20 || rec.ReservedQuantity != 0 {
		t.Errorf("stock = %d/%d, want 20/0", rec.Quantity, rec.ReservedQuantity)
	}
}

func TestCreateOrderExportsAllocates(t *testing.T) {
	f := newFixture(t)
	s1 := f.stocks.seed(1, 100, 4, 0)
	s2 := f.stocks.seed(1, 200, 10, 0)

	created, err := f.svc.CreateOrderExports(context.Background(), "ORD-2", 7, []OrderExportItem{
		{VariantID: 1, Quantity: 6, PricePerItem: 9.9},
	})
	if err != nil {
		t.Fatalf("CreateOrderExports: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d exports, want 2", len(created))
	}
	if got := f.stock(t, s1).ReservedQuantity; got != 4 {
		t.Errorf("warehouse 100 reserved = %d, want 4", got)
	}
	if got := f.stock(t, s2).ReservedQuantity; got != 2 {
		t.Errorf("warehouse 200 reserved = %d, want 2", got)
	}
}

func TestCreateOrderExportsShort(t *testing.T) {
	f := newFixture(t)
	f.stocks.seed(1, 100, 4, 2)

	_, err := f.svc.CreateOrderExports(context.Background(), "ORD-2", 7, []OrderExportItem{
		{VariantID: 1, Quantity: 5},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
}

func TestCreateReturnTransactionsRestoresStock(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 20, 0)
	created, err := f.svc.CreateOrderExports(context.Background(), "ORD-3", 7, []OrderExportItem{
		{VariantID: 1, Quantity: 5, PricePerItem: 1.5},
	})
	if err != nil {
		t.Fatalf("CreateOrderExports: %v", err)
	}
	if err := f.svc.UpdateTransactionStatus(context.Background(), created[0].ID, domain.TxCompleted, "", 7); err != nil {
		t.Fatalf("complete export: %v", err)
	}

	imports, err := f.svc.CreateReturnTransactions(context.Background(), "ORD-3", 7, "returned")
	if err != nil {
		t.Fatalf("CreateReturnTransactions: %v", err)
	}
	if len(imports) != 1 {
		t.Fatalf("imports = %d, want 1", len(imports))
	}
	if imports[0].Status != domain.TxCompleted || imports[0].Quantity != 5 {
		t.Errorf("import = %+v", imports[0])
	}
	if got := f.stock(t, id).Quantity; got != 20 {
		t.Errorf("quantity = %d, want 20 after return", got)
	}
}

func TestOrderShippedNotifiedAfterLastExport(t *testing.T) {
	f := newFixture(t)
	f.stocks.seed(1, 100, 10, 0)
	f.stocks.seed(2, 100, 10, 0)

	e1, err := f.svc.CreateOrderExports(context.Background(), "ORD-4", 7, []OrderExportItem{{VariantID: 1, Quantity: 2}})
	if err != nil {
		t.Fatalf("exports 1: %v", err)
	}
	e2, err := f.svc.CreateOrderExports(context.Background(), "ORD-4", 7, []OrderExportItem{{VariantID: 2, Quantity: 3}})
	if err != nil {
		t.Fatalf("exports 2: %v", err)
	}

	if err := f.svc.UpdateTransactionStatus(context.Background(), e1[0].ID, domain.TxCompleted, "", 7); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	if len(f.orders.calls) != 0 {
		t.Fatalf("order notified before all exports completed")
	}

	if err := f.svc.UpdateTransactionStatus(context.Background(), e2[0].ID, domain.TxCompleted, "", 7); err != nil {
		t.Fatalf("complete second: %v", err)
	}
	if len(f.orders.calls) != 1 {
		t.Fatalf("order calls = %d, want 1", len(f.orders.calls))
	}
	if f.orders.calls[0].statusID != OrderStatusShipped {
		t.Errorf("status = %d, want %d", f.orders.calls[0].statusID, OrderStatusShipped)
	}
}

func TestCancelOrderExportCascades(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 20, 0)

	if _, err := f.svc.Reserve(context.Background(), 1, 5, "ORD-5"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	exports, err := f.svc.CreateOrderExports(context.Background(), "ORD-5", 7, []OrderExportItem{
		{VariantID: 1, Quantity: 2}, {VariantID: 1, Quantity: 3},
	})
	if err != nil {
		t.Fatalf("CreateOrderExports: %v", err)
	}
	// reserved = 5 (reservation) + 5 (export holds)
	if got := f.stock(t, id).ReservedQuantity; got != 10 {
		t.Fatalf("reserved = %d, want 10", got)
	}

	if err := f.svc.UpdateTransactionStatus(context.Background(), exports[0].ID, domain.TxCancelled, "out of delivery range", 7); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Both export holds reversed; reservation cancelled without re-adjusting.
	if got := f.stock(t, id).ReservedQuantity; got != 5 {
		t.Errorf("reserved = %d, want 5", got)
	}
	remaining, _ := f.ledger.ListByOrder(context.Background(), "ORD-5", domain.TypeExport, domain.TxPending)
	if len(remaining) != 0 {
		t.Errorf("pending exports = %d, want 0", len(remaining))
	}
	reserves, _ := f.ledger.ListPendingReserves(context.Background(), "ORD-5")
	if len(reserves) != 0 {
		t.Errorf("pending reserves = %d, want 0", len(reserves))
	}
	if len(f.orders.calls) != 1 || f.orders.calls[0].statusID != OrderStatusCancelled {
		t.Errorf("order calls = %+v, want one cancelled notification", f.orders.calls)
	}
}

func TestRemoteFailureKeepsLedgerState(t *testing.T) {
	f := newFixture(t)
	f.stocks.seed(1, 100, 20, 0)
	f.orders.fail = true

	exports, err := f.svc.CreateOrderExports(context.Background(), "ORD-6", 7, []OrderExportItem{{VariantID: 1, Quantity: 2}})
	if err != nil {
		t.Fatalf("CreateOrderExports: %v", err)
	}
	err = f.svc.UpdateTransactionStatus(context.Background(), exports[0].ID, domain.TxCompleted, "", 7)

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if remote.OrderNumber != "ORD-6" {
		t.Errorf("remote error order = %q", remote.OrderNumber)
	}
	// The completion itself must have committed.
	got, _ := f.ledger.GetByID(context.Background(), exports[0].ID, false)
	if got.Status != domain.TxCompleted {
		t.Errorf("transaction status = %s, want COMPLETED despite remote failure", got.Status)
	}
}

func TestReservedNeverExceedsQuantity(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 10, 0)

	if _, err := f.svc.Reserve(context.Background(), 1, 10, "ORD-7"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := f.svc.CreateTransactions(context.Background(), []TransactionInput{
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeExport, Quantity: 1},
	}, 7); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("export beyond reserved stock err = %v, want ErrInsufficientStock", err)
	}

	rec := f.stock(t, id)
	if rec.ReservedQuantity > rec.Quantity {
		t.Errorf("invariant broken: reserved %d > quantity %d", rec.ReservedQuantity, rec.Quantity)
	}
}

func TestFulfillmentScenario(t *testing.T) {
	f := newFixture(t)
	id := f.stocks.seed(1, 100, 20, 0)
	ctx := context.Background()

	if _, err := f.svc.Reserve(ctx, 1, 5, "ORD-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := f.stock(t, id).ReservedQuantity; got != 5 {
		t.Fatalf("after reserve: reserved = %d, want 5", got)
	}

	exports, err := f.svc.CreateTransactions(ctx, []TransactionInput{
		{VariantID: 1, WarehouseID: 100, Type: domain.TypeExport, Quantity: 5,
			ReferenceType: domain.RefOrder, ReferenceCode: "ORD-1"},
	}, 7)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := f.stock(t, id).ReservedQuantity; got != 10 {
		t.Fatalf("after export hold: reserved = %d, want 10", got)
	}

	if err := f.svc.UpdateTransactionStatus(ctx, exports[0].ID, domain.TxCompleted, "", 7); err != nil {
		t.Fatalf("complete export: %v", err)
	}
	rec := f.stock(t, id)
	if rec.Quantity != 15 || rec.ReservedQuantity != 5 {
		t.Fatalf("after completion: %d/%d, want 15/5", rec.Quantity, rec.ReservedQuantity)
	}

	if err := f.svc.Release(ctx, "ORD-1", "export consumed the hold", false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	rec = f.stock(t, id)
	if rec.Quantity != 15 || rec.ReservedQuantity != 5 {
		t.Errorf("final state: %d/%d, want 15/5", rec.Quantity, rec.ReservedQuantity)
	}
	reserves, _ := f.ledger.ListPendingReserves(ctx, "ORD-1")
	if len(reserves) != 0 {
		t.Errorf("pending reserves = %d, want 0", len(reserves))
	}
}

func TestRefreshVariantStatus(t *testing.T) {
	f := newFixture(t)
	f.stocks.seed(1, 100, 3, 0)
	f.stocks.seed(1, 200, 4, 0)

	if err := f.svc.RefreshVariantStatus(context.Background(), 1); err != nil {
		t.Fatalf("RefreshVariantStatus: %v", err)
	}
	if len(f.catalog.statusCalls) != 1 {
		t.Fatalf("status calls = %d, want 1", len(f.catalog.statusCalls))
	}
	if f.catalog.statusCalls[0].status != domain.StatusLowStock {
		t.Errorf("status = %s, want LOW_STOCK for 7 available", f.catalog.statusCalls[0].status)
	}
}

func TestAvailabilityPublishedOnlyOnLabelChange(t *testing.T) {
	f := newFixture(t)
	f.stocks.seed(1, 100, 100, 0)

	// 100 -> 95 available stays AVAILABLE: no push.
	if _, err := f.svc.Reserve(context.Background(), 1, 5, "ORD-8"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(f.catalog.statusCalls) != 0 {
		t.Fatalf("status pushed without a label change: %+v", f.catalog.statusCalls)
	}

	// 95 -> 5 available crosses into LOW_STOCK: one push.
	if _, err := f.svc.Reserve(context.Background(), 1, 90, "ORD-9"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(f.catalog.statusCalls) != 1 || f.catalog.statusCalls[0].status != domain.StatusLowStock {
		t.Fatalf("status calls = %+v, want one LOW_STOCK push", f.catalog.statusCalls)
	}
}

func TestCatalogFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.stocks.seed(1, 100, 11, 0)
	f.catalog.fail = true

	// 11 -> 1 available crosses into LOW_STOCK; the push fails but the
	// reservation must stand.
	if _, err := f.svc.Reserve(context.Background(), 1, 10, "ORD-10"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
}
