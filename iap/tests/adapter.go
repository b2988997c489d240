package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-server/iap"
)

// ReceiptFunc returns a receipt the adapter under test should accept.
type ReceiptFunc func(t *testing.T) iap.Receipt

// RunAdapterTests runs the behavior every storefront adapter must share.
func RunAdapterTests(t *testing.T, a iap.Adapter, cfg iap.Config, validReceiptFunc ReceiptFunc, invalidReceipt iap.Receipt, teardown func()) {
	for _, testFunc := range []func(t *testing.T, a iap.Adapter, cfg iap.Config, validReceiptFunc ReceiptFunc, invalidReceipt iap.Receipt){
		testValidReceipt,
		testInvalidReceipt,
		testForeignResponse,
	} {
		testFunc(t, a, cfg, validReceiptFunc, invalidReceipt)
		teardown()
	}
}

func prepare(t *testing.T, a iap.Adapter, cfg iap.Config) {
	a.ReadConfig(cfg)
	if initializer, ok := a.(iap.Initializer); ok {
		require.NoError(t, initializer.Setup(context.Background()))
	}
}

func testValidReceipt(t *testing.T, a iap.Adapter, cfg iap.Config, validReceiptFunc ReceiptFunc, _ iap.Receipt) {
	prepare(t, a, cfg)

	resp, err := a.ValidatePurchase(context.Background(), validReceiptFunc(t))
	require.NoError(t, err)
	require.True(t, iap.IsValidated(resp))
	require.Equal(t, a.Service(), resp.Service)

	purchases, ok := a.GetPurchaseData(resp, iap.Options{})
	require.True(t, ok)
	require.NotEmpty(t, purchases)

	seen := make(map[string]struct{})
	for _, p := range purchases {
		require.Equal(t, a.Service(), p.Service)
		require.NotEmpty(t, p.ProductID)
		require.NotEmpty(t, p.TransactionID)
		require.False(t, p.PurchaseDate.IsZero())
		require.Greater(t, p.Quantity, 0)

		_, dup := seen[p.TransactionID]
		require.False(t, dup, "duplicate transaction id %s", p.TransactionID)
		seen[p.TransactionID] = struct{}{}
	}
}

func testInvalidReceipt(t *testing.T, a iap.Adapter, cfg iap.Config, _ ReceiptFunc, invalidReceipt iap.Receipt) {
	prepare(t, a, cfg)

	resp, err := a.ValidatePurchase(context.Background(), invalidReceipt)
	require.Error(t, err)
	require.False(t, iap.IsValidated(resp))
}

func testForeignResponse(t *testing.T, a iap.Adapter, cfg iap.Config, _ ReceiptFunc, _ iap.Receipt) {
	prepare(t, a, cfg)

	_, ok := a.GetPurchaseData(nil, iap.Options{})
	require.False(t, ok)

	_, ok = a.GetPurchaseData(&iap.Response{Service: a.Service(), Status: iap.StatusSuccess, Raw: "not a storefront body"}, iap.Options{})
	require.False(t, ok)
}
