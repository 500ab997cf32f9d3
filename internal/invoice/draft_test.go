package invoice_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/invoice-pricing/internal/invoice"
	"github.com/noah-isme/invoice-pricing/internal/pricing"
)

var now = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func newDraft(t *testing.T, kind invoice.Kind, strategy string) invoice.Draft {
	t.Helper()
	d, err := invoice.New("acme", kind, strategy, now)
	require.NoError(t, err)
	return d
}

func line(productID int64, qty, price, discount string, dt pricing.DiscountType, tax string) invoice.Item {
	return invoice.Item{
		ProductID: productID,
		LineInput: pricing.LineInput{
			Quantity:       pricing.NumberFrom(qty),
			UnitPrice:      pricing.NumberFrom(price),
			DiscountValue:  pricing.NumberFrom(discount),
			DiscountType:   dt,
			TaxRatePercent: pricing.NumberFrom(tax),
		},
	}
}

func TestNewDraft(t *testing.T) {
	d := newDraft(t, "", "")
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, invoice.KindInvoice, d.Kind)
	assert.Equal(t, "live", d.Strategy)
	assert.Equal(t, invoice.StatusDraft, d.Details.Status)
	assert.Empty(t, d.Items)

	_, err := invoice.New("acme", "credit-note", "", now)
	require.ErrorIs(t, err, invoice.ErrInvalidKind)

	_, err = invoice.New("acme", invoice.KindInvoice, "bogus", now)
	require.ErrorIs(t, err, pricing.ErrUnknownStrategy)
}

func TestAddItemDefaultsQuantityToOne(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "")
	d = d.AddItem(line(1, "", "250", "", "", ""))
	require.Len(t, d.Items, 1)
	assert.NotEmpty(t, d.Items[0].RowID)
	assert.Equal(t, "1", d.Items[0].Quantity.Raw())

	q := d.Quote()
	assert.InDelta(t, 250, q.Totals.GrandTotal, 1e-9)
}

func TestAddItemAlwaysAssignsFreshRowID(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "").AddItem(line(1, "1", "10", "", "", ""))
	first := d.Items[0].RowID

	dup := line(2, "1", "20", "", "", "")
	dup.RowID = first
	d = d.AddItem(dup)
	require.Len(t, d.Items, 2)
	require.NotEqual(t, first, d.Items[1].RowID)

	d, err := d.RemoveItem(d.Items[1].RowID)
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	assert.Equal(t, first, d.Items[0].RowID)
	assert.InDelta(t, 10, d.Quote().Totals.GrandTotal, 1e-9)
}

func TestNonFiniteInputKeepsDraftUsable(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "").
		AddItem(line(1, "Infinity", "10", "", "", "18")).
		SetDetails(invoice.Details{CustomerID: 3})
	assert.Equal(t, "1", d.Items[0].Quantity.Raw())
	assert.InDelta(t, 11.8, d.Quote().Totals.GrandTotal, 1e-9)

	d, err := d.UpdateItem(d.Items[0].RowID, invoice.ItemPatch{
		Quantity:  pricing.NumberFrom("Infinity"),
		UnitPrice: pricing.NumberFrom("1e400"),
	})
	require.NoError(t, err)
	d = d.SetInvoiceDiscount(pricing.NumberFrom("-Infinity"))

	q := d.Quote()
	assert.Zero(t, q.Totals.GrandTotal)
	_, err = json.Marshal(q)
	require.NoError(t, err)

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	var back invoice.Draft
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "Infinity", back.Items[0].Quantity.Raw())

	// A zero unit price is still rejected, but the failure is a validation
	// error rather than an encoding one.
	_, err = invoice.BuildSubmission(d)
	require.ErrorIs(t, err, invoice.ErrValidation)

	d, err = d.UpdateItem(d.Items[0].RowID, invoice.ItemPatch{UnitPrice: pricing.NumberFrom("10")})
	require.NoError(t, err)
	sub, err := invoice.BuildSubmission(d)
	require.NoError(t, err)
	assert.Zero(t, sub.Total)
	_, err = json.Marshal(sub)
	require.NoError(t, err)
}

func TestOperationsDoNotMutateInput(t *testing.T) {
	base := newDraft(t, invoice.KindInvoice, "").AddItem(line(1, "2", "100", "10", pricing.DiscountPercentage, "0"))
	rowID := base.Items[0].RowID

	edited, err := base.UpdateItem(rowID, invoice.ItemPatch{Quantity: pricing.NumberFrom("5")})
	require.NoError(t, err)
	assert.Equal(t, "2", base.Items[0].Quantity.Raw())
	assert.Equal(t, "5", edited.Items[0].Quantity.Raw())

	grown := base.AddItem(line(2, "1", "10", "", "", ""))
	assert.Len(t, base.Items, 1)
	assert.Len(t, grown.Items, 2)
}

func TestUpdateItemEmptyQuantityPricesAsZero(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "").AddItem(line(1, "3", "100", "", "", "18"))
	rowID := d.Items[0].RowID

	d, err := d.UpdateItem(rowID, invoice.ItemPatch{Quantity: pricing.NumberFrom("")})
	require.NoError(t, err)
	q := d.Quote()
	assert.Zero(t, q.Lines[0].LineTotal)
	assert.Zero(t, q.Totals.GrandTotal)
}

func TestUpdateItemPatchFields(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "").AddItem(line(1, "2", "100", "10", pricing.DiscountPercentage, "0"))
	rowID := d.Items[0].RowID

	var patch invoice.ItemPatch
	require.NoError(t, json.Unmarshal([]byte(`{"discount":"20","discountType":"fixed","taxRate":"18","description":"Widget"}`), &patch))
	d, err := d.UpdateItem(rowID, patch)
	require.NoError(t, err)

	item, ok := d.Item(rowID)
	require.True(t, ok)
	assert.Equal(t, "Widget", item.Description)
	assert.Equal(t, pricing.DiscountAmount, item.DiscountType)
	assert.Equal(t, "2", item.Quantity.Raw())

	q := d.Quote()
	assert.InDelta(t, 180, q.Lines[0].TaxableSubtotal, 1e-9)
	assert.InDelta(t, 212.4, q.Lines[0].LineTotal, 1e-9)
}

func TestUpdateAndRemoveUnknownRow(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "")
	_, err := d.UpdateItem("missing", invoice.ItemPatch{})
	require.ErrorIs(t, err, invoice.ErrItemNotFound)
	_, err = d.RemoveItem("missing")
	require.ErrorIs(t, err, invoice.ErrItemNotFound)
}

func TestRemoveItemKeepsOrder(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "")
	for i := int64(1); i <= 3; i++ {
		d = d.AddItem(line(i, "1", "10", "", "", ""))
	}
	middle := d.Items[1].RowID
	d, err := d.RemoveItem(middle)
	require.NoError(t, err)
	require.Len(t, d.Items, 2)
	assert.Equal(t, int64(1), d.Items[0].ProductID)
	assert.Equal(t, int64(3), d.Items[1].ProductID)
}

func TestQuoteWithInvoiceDiscount(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "").
		AddItem(line(1, "2", "100", "10", pricing.DiscountPercentage, "0")).
		AddItem(line(2, "1", "1000", "10", pricing.DiscountPercentage, "18")).
		SetInvoiceDiscount(pricing.NumberFrom("42"))

	q := d.Quote()
	require.Len(t, q.Lines, 2)
	assert.Equal(t, d.Items[0].RowID, q.Lines[0].RowID)
	assert.InDelta(t, 1080, q.Totals.Subtotal, 1e-9)
	assert.InDelta(t, 162, q.Totals.TaxTotal, 1e-9)
	assert.InDelta(t, 42, q.Totals.InvoiceDiscount, 1e-9)
	assert.InDelta(t, 1200, q.Totals.GrandTotal, 1e-9)
	assert.Len(t, q.Breakdowns(), 2)
}

func TestSnapshotDraftPricesFromSnapshot(t *testing.T) {
	item := line(1, "2", "100", "", "", "18")
	item.UnitPriceSnapshot = pricing.NumberFrom("80")
	item.TaxRateSnapshot = pricing.NumberFrom("5")

	live := newDraft(t, invoice.KindInvoice, "live").AddItem(item)
	snap := newDraft(t, invoice.KindInvoice, "erp").AddItem(item)

	assert.InDelta(t, 236, live.Quote().Totals.GrandTotal, 1e-9)
	assert.Equal(t, "snapshot", snap.Quote().Strategy)
	assert.InDelta(t, 168, snap.Quote().Totals.GrandTotal, 1e-9)
}

func TestDraftJSONRoundTripKeepsRawText(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "").AddItem(line(1, "2", "49.5abc", "", "", ""))
	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var back invoice.Draft
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "49.5abc", back.Items[0].UnitPrice.Raw())
	assert.Equal(t, d.Quote(), back.Quote())
}

func TestSetDetailsKeepsStatusWhenEmpty(t *testing.T) {
	d := newDraft(t, invoice.KindInvoice, "").SetDetails(invoice.Details{CustomerID: 7, Status: "PENDING"})
	assert.Equal(t, invoice.StatusPending, d.Details.Status)
	d = d.SetDetails(invoice.Details{CustomerID: 8})
	assert.Equal(t, invoice.StatusPending, d.Details.Status)
	assert.Equal(t, int64(8), d.Details.CustomerID)
}

func TestParseKind(t *testing.T) {
	k, err := invoice.ParseKind("Return")
	require.NoError(t, err)
	assert.Equal(t, invoice.KindReturn, k)
	_, err = invoice.ParseKind("x")
	assert.True(t, errors.Is(err, invoice.ErrInvalidKind))
}
