package apple

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/iap-server/iap"
	"github.com/code-payments/iap-server/iap/tests"
)

const validReceipt = "MIITtgYJKoZIhvcNAQcCoIITpzCCE6MCAQExCzAJBgUrDgMCGgUAMIIDVwYJKoZIhvcNAQcB"

type fakeAppStore struct {
	server *httptest.Server

	fixture        []byte
	sandboxReceipt string
	lastRequest    atomic.Pointer[verifyRequest]
	productionHits atomic.Int64
	sandboxHits    atomic.Int64
}

func newFakeAppStore(t *testing.T) *fakeAppStore {
	fixture, err := os.ReadFile("testdata/verify_response.json")
	require.NoError(t, err)

	f := &fakeAppStore{fixture: fixture, sandboxReceipt: "sandbox-" + validReceipt}

	mux := http.NewServeMux()
	mux.HandleFunc("/verifyReceipt", func(w http.ResponseWriter, r *http.Request) {
		f.productionHits.Add(1)
		f.handle(w, r, false)
	})
	mux.HandleFunc("/sandbox/verifyReceipt", func(w http.ResponseWriter, r *http.Request) {
		f.sandboxHits.Add(1)
		f.handle(w, r, true)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeAppStore) handle(w http.ResponseWriter, r *http.Request, sandbox bool) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_, _ = w.Write([]byte(`{"status": 21000}`))
		return
	}
	f.lastRequest.Store(&req)

	switch {
	case req.ReceiptData == validReceipt:
		_, _ = w.Write(f.fixture)
	case req.ReceiptData == f.sandboxReceipt && !sandbox:
		_, _ = w.Write([]byte(`{"status": 21007}`))
	case req.ReceiptData == f.sandboxReceipt && sandbox:
		_, _ = w.Write(f.fixture)
	case req.ReceiptData == "server-error":
		w.WriteHeader(http.StatusInternalServerError)
	default:
		_, _ = w.Write([]byte(`{"status": 21002}`))
	}
}

func (f *fakeAppStore) config() iap.Config {
	return iap.Config{
		AppleSharedSecret:  "shared-secret",
		AppleProductionURL: f.server.URL + "/verifyReceipt",
		AppleSandboxURL:    f.server.URL + "/sandbox/verifyReceipt",
	}
}

func TestAppleAdapter(t *testing.T) {
	store := newFakeAppStore(t)
	adapter := NewAdapter(zap.NewNop(), store.server.Client())

	validReceiptFunc := func(_ *testing.T) iap.Receipt {
		return validReceipt
	}

	teardown := func() {}

	tests.RunAdapterTests(t, adapter, store.config(), validReceiptFunc, "invalid", teardown)
}

func TestAppleAdapter_SendsSharedSecret(t *testing.T) {
	store := newFakeAppStore(t)
	adapter := NewAdapter(zap.NewNop(), store.server.Client())

	cfg := store.config()
	cfg.AppleExcludeOldTransactions = true
	adapter.ReadConfig(cfg)

	_, err := adapter.ValidatePurchase(context.Background(), []byte(validReceipt+"\n"))
	require.NoError(t, err)

	req := store.lastRequest.Load()
	require.NotNil(t, req)
	require.Equal(t, validReceipt, req.ReceiptData)
	require.Equal(t, "shared-secret", req.Password)
	require.True(t, req.ExcludeOldTransactions)
}

func TestAppleAdapter_Rejected(t *testing.T) {
	store := newFakeAppStore(t)
	adapter := NewAdapter(zap.NewNop(), store.server.Client())
	adapter.ReadConfig(store.config())

	resp, err := adapter.ValidatePurchase(context.Background(), "bogus")
	require.ErrorIs(t, err, iap.ErrReceiptRejected)
	require.Contains(t, err.Error(), "21002")
	require.NotNil(t, resp)
	require.Equal(t, iap.StatusFailure, resp.Status)
	require.Equal(t, StatusMalformedReceipt, resp.Raw.(*VerifyResponse).Status)
}

func TestAppleAdapter_InvalidReceiptType(t *testing.T) {
	adapter := NewAdapter(zap.NewNop(), nil)

	_, err := adapter.ValidatePurchase(context.Background(), 12)
	require.ErrorIs(t, err, iap.ErrInvalidReceipt)

	_, err = adapter.ValidatePurchase(context.Background(), "")
	require.ErrorIs(t, err, iap.ErrInvalidReceipt)
}

func TestAppleAdapter_TransportError(t *testing.T) {
	store := newFakeAppStore(t)
	adapter := NewAdapter(zap.NewNop(), store.server.Client())
	adapter.ReadConfig(store.config())

	resp, err := adapter.ValidatePurchase(context.Background(), "server-error")
	require.Error(t, err)
	require.NotErrorIs(t, err, iap.ErrReceiptRejected)
	require.Nil(t, resp)
}

func TestAppleAdapter_SandboxReroute(t *testing.T) {
	store := newFakeAppStore(t)
	adapter := NewAdapter(zap.NewNop(), store.server.Client())
	adapter.ReadConfig(store.config())

	resp, err := adapter.ValidatePurchase(context.Background(), store.sandboxReceipt)
	require.NoError(t, err)
	require.True(t, iap.IsValidated(resp))
	require.EqualValues(t, 1, store.productionHits.Load())
	require.EqualValues(t, 1, store.sandboxHits.Load())
}

func TestAppleAdapter_SandboxOnly(t *testing.T) {
	store := newFakeAppStore(t)
	adapter := NewAdapter(zap.NewNop(), store.server.Client())

	cfg := store.config()
	cfg.Sandbox = true
	adapter.ReadConfig(cfg)

	resp, err := adapter.ValidatePurchase(context.Background(), store.sandboxReceipt)
	require.NoError(t, err)
	require.True(t, iap.IsValidated(resp))
	require.Zero(t, store.productionHits.Load())
	require.EqualValues(t, 1, store.sandboxHits.Load())
}

func TestAppleAdapter_GetPurchaseData(t *testing.T) {
	store := newFakeAppStore(t)
	adapter := NewAdapter(zap.NewNop(), store.server.Client())
	adapter.ReadConfig(store.config())

	resp, err := adapter.ValidatePurchase(context.Background(), validReceipt)
	require.NoError(t, err)

	purchases, ok := adapter.GetPurchaseData(resp, iap.Options{})
	require.True(t, ok)
	require.Len(t, purchases, 4)
	require.Equal(t, "com.example.app.coins", purchases[0].ProductID)
	require.Equal(t, 2, purchases[0].Quantity)
	require.True(t, purchases[0].ExpirationDate.IsZero())
	require.Equal(t, "1000000223456789", purchases[2].OriginalTransactionID)

	expired, err := iap.IsExpired(purchases[1])
	require.NoError(t, err)
	require.True(t, expired)

	expired, err = iap.IsExpired(purchases[2])
	require.NoError(t, err)
	require.False(t, expired)

	purchases, ok = adapter.GetPurchaseData(resp, iap.Options{IgnoreExpired: true})
	require.True(t, ok)
	require.Len(t, purchases, 3)

	purchases, ok = adapter.GetPurchaseData(resp, iap.Options{IgnoreExpired: true, IgnoreCanceled: true})
	require.True(t, ok)
	require.Len(t, purchases, 2)
}

func TestAppleAdapter_InAppFallback(t *testing.T) {
	adapter := NewAdapter(zap.NewNop(), nil)

	resp := &iap.Response{Service: iap.Apple, Status: iap.StatusSuccess, Raw: &VerifyResponse{
		Receipt: &Receipt{InApp: []InAppReceipt{{
			ProductID:      "com.example.app.coins",
			TransactionID:  "1",
			PurchaseDateMS: "1704067200000",
		}}},
	}}

	purchases, ok := adapter.GetPurchaseData(resp, iap.Options{})
	require.True(t, ok)
	require.Len(t, purchases, 1)
	require.Equal(t, 1, purchases[0].Quantity)

	_, ok = adapter.GetPurchaseData(&iap.Response{Service: iap.Apple, Raw: &VerifyResponse{}}, iap.Options{})
	require.False(t, ok)
}

func TestAppleAdapter_GetPurchaseData_MissingProduct(t *testing.T) {
	adapter := NewAdapter(zap.NewNop(), nil)

	for _, body := range []*VerifyResponse{
		{LatestReceiptInfo: []InAppReceipt{
			{ProductID: "com.example.app.coins", TransactionID: "1", PurchaseDateMS: "1704067200000"},
			{TransactionID: "2", PurchaseDateMS: "1704067200000"},
		}},
		{Receipt: &Receipt{InApp: []InAppReceipt{{TransactionID: "1", PurchaseDateMS: "1704067200000"}}}},
	} {
		purchases, ok := adapter.GetPurchaseData(&iap.Response{Service: iap.Apple, Status: iap.StatusSuccess, Raw: body}, iap.Options{})
		require.False(t, ok)
		require.Nil(t, purchases)
	}
}

func TestAppleAdapter_Setup(t *testing.T) {
	adapter := NewAdapter(zap.NewNop(), nil)
	require.NoError(t, adapter.Setup(context.Background()))

	adapter.ReadConfig(iap.Config{AppleProductionURL: "ftp://example.com"})
	require.Error(t, adapter.Setup(context.Background()))

	adapter.ReadConfig(iap.Config{})
	require.NoError(t, adapter.Setup(context.Background()))
	require.Equal(t, ProductionURL, adapter.config().productionURL)
}

func TestStatusText(t *testing.T) {
	require.Equal(t, "valid receipt", StatusText(StatusOK))
	require.Equal(t, "unknown status", StatusText(1))
}
