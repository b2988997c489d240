package windows

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/iap-server/iap"
	"github.com/code-payments/iap-server/iap/tests"
)

func loadReceipt(t *testing.T) string {
	data, err := os.ReadFile("testdata/receipt.xml")
	require.NoError(t, err)
	return string(data)
}

func TestWindowsAdapter(t *testing.T) {
	adapter := NewAdapter(zap.NewNop())

	validReceiptFunc := func(t *testing.T) iap.Receipt {
		return loadReceipt(t)
	}

	teardown := func() {}

	tests.RunAdapterTests(t, adapter, iap.Config{}, validReceiptFunc, "invalid", teardown)
}

func TestWindowsAdapter_HasNoSetup(t *testing.T) {
	var adapter iap.Adapter = NewAdapter(nil)
	_, ok := adapter.(iap.Initializer)
	require.False(t, ok)
}

func TestWindowsAdapter_GetPurchaseData(t *testing.T) {
	adapter := NewAdapter(zap.NewNop())

	resp, err := adapter.ValidatePurchase(context.Background(), []byte(loadReceipt(t)))
	require.NoError(t, err)
	require.True(t, iap.IsValidated(resp))

	purchases, ok := adapter.GetPurchaseData(resp, iap.Options{})
	require.True(t, ok)
	require.Len(t, purchases, 3)

	require.Equal(t, "55428GreenlakeApps.CurrentAppSimulatorEventTest_z7q3q7z11crfr", purchases[0].ProductID)
	require.Equal(t, "Product1", purchases[1].ProductID)
	require.Equal(t, "6bbf4366-6fb2-8be8-7947-92fd5f683530", purchases[1].TransactionID)
	require.False(t, purchases[1].ExpirationDate.IsZero())
	require.True(t, purchases[2].ExpirationDate.IsZero())

	purchases, ok = adapter.GetPurchaseData(resp, iap.Options{IgnoreExpired: true})
	require.True(t, ok)
	require.Len(t, purchases, 2)
	for _, p := range purchases {
		require.NotEqual(t, "Product1", p.ProductID)
	}
}

func TestWindowsAdapter_Unsigned(t *testing.T) {
	adapter := NewAdapter(zap.NewNop())

	receipt := loadReceipt(t)
	receipt = receipt[:strings.Index(receipt, "<Signature")] + "</Receipt>"

	resp, err := adapter.ValidatePurchase(context.Background(), receipt)
	require.ErrorIs(t, err, iap.ErrReceiptRejected)
	require.NotNil(t, resp)
	require.Equal(t, iap.StatusPossibleHack, resp.Status)
	require.False(t, iap.IsValidated(resp))
}

func TestWindowsAdapter_Malformed(t *testing.T) {
	adapter := NewAdapter(zap.NewNop())

	for _, receipt := range []iap.Receipt{
		nil,
		"",
		"<Receipt",
		struct{}{},
	} {
		_, err := adapter.ValidatePurchase(context.Background(), receipt)
		require.ErrorIs(t, err, iap.ErrInvalidReceipt)
	}

	resp, err := adapter.ValidatePurchase(context.Background(), `<Receipt><Signature><SignatureValue>abc</SignatureValue></Signature></Receipt>`)
	require.ErrorIs(t, err, iap.ErrReceiptRejected)
	require.Equal(t, iap.StatusFailure, resp.Status)

	resp, err = adapter.ValidatePurchase(context.Background(), `<Receipt><ProductReceipt Id="1" ProductId="p" PurchaseDate="yesterday"/><Signature><SignatureValue>abc</SignatureValue></Signature></Receipt>`)
	require.ErrorIs(t, err, iap.ErrReceiptRejected)
	require.Equal(t, iap.StatusFailure, resp.Status)
}

func TestWindowsAdapter_BadDates(t *testing.T) {
	adapter := NewAdapter(zap.NewNop())
	receipt := loadReceipt(t)

	for _, bad := range []string{
		strings.Replace(receipt, `LicenseType="Full" />`, `LicenseType="Full" ExpirationDate="not-a-date" />`, 1),
		strings.Replace(receipt, `PurchaseDate="2012-06-04T23:07:24Z"`, `PurchaseDate="yesterday"`, 1),
		strings.Replace(receipt, `ExpirationDate="2012-09-02T23:08:49Z"`, `ExpirationDate="2012-09-02"`, 1),
	} {
		require.NotEqual(t, receipt, bad)

		resp, err := adapter.ValidatePurchase(context.Background(), bad)
		require.ErrorIs(t, err, iap.ErrReceiptRejected)
		require.NotNil(t, resp)
		require.Equal(t, iap.StatusFailure, resp.Status)
		require.False(t, iap.IsValidated(resp))

		purchases, ok := adapter.GetPurchaseData(resp, iap.Options{IgnoreExpired: true})
		require.False(t, ok)
		require.Nil(t, purchases)
	}

	resp := &iap.Response{Service: iap.Windows, Status: iap.StatusSuccess, Raw: &Receipt{
		AppReceipt: &AppReceipt{
			ID:             "8ffa256d",
			AppID:          "app",
			LicenseType:    "Full",
			PurchaseDate:   "2012-06-04T23:07:24Z",
			ExpirationDate: "not-a-date",
		},
	}}
	purchases, ok := adapter.GetPurchaseData(resp, iap.Options{})
	require.False(t, ok)
	require.Nil(t, purchases)
}
