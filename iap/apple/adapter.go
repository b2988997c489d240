package apple

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/code-payments/iap-server/iap"
)

const (
	ProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	SandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"
)

type config struct {
	sharedSecret           string
	excludeOldTransactions bool
	productionURL          string
	sandboxURL             string
	sandbox                bool
}

// Adapter validates base64-encoded App Store receipts with Apple's
// verifyReceipt endpoint.
type Adapter struct {
	log        *zap.Logger
	httpClient *http.Client

	mu  sync.RWMutex
	cfg config
}

func NewAdapter(log *zap.Logger, httpClient *http.Client) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{
		log:        log.With(zap.String("service", iap.Apple.String())),
		httpClient: httpClient,
		cfg: config{
			productionURL: ProductionURL,
			sandboxURL:    SandboxURL,
		},
	}
}

func (a *Adapter) Service() iap.Service {
	return iap.Apple
}

func (a *Adapter) ReadConfig(cfg iap.Config) {
	next := config{
		sharedSecret:           cfg.AppleSharedSecret,
		excludeOldTransactions: cfg.AppleExcludeOldTransactions,
		productionURL:          cfg.AppleProductionURL,
		sandboxURL:             cfg.AppleSandboxURL,
		sandbox:                cfg.Sandbox,
	}
	if next.productionURL == "" {
		next.productionURL = ProductionURL
	}
	if next.sandboxURL == "" {
		next.sandboxURL = SandboxURL
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg = next
}

func (a *Adapter) config() config {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.cfg
}

// Setup checks the configured endpoints. Apple needs no credentials up front;
// the shared secret is only sent along with receipts.
func (a *Adapter) Setup(_ context.Context) error {
	cfg := a.config()

	for _, endpoint := range []string{cfg.productionURL, cfg.sandboxURL} {
		u, err := url.Parse(endpoint)
		if err != nil {
			return errors.Wrapf(err, "invalid verifyReceipt url %q", endpoint)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return errors.Errorf("invalid verifyReceipt url %q", endpoint)
		}
	}

	if cfg.sharedSecret == "" {
		a.log.Debug("No shared secret configured, auto-renewable subscriptions will not validate")
	}

	return nil
}

type verifyRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions,omitempty"`
}

func (a *Adapter) ValidatePurchase(ctx context.Context, receipt iap.Receipt) (*iap.Response, error) {
	encoded, err := receiptData(receipt)
	if err != nil {
		return nil, err
	}

	cfg := a.config()

	body, err := json.Marshal(&verifyRequest{
		ReceiptData:            encoded,
		Password:               cfg.sharedSecret,
		ExcludeOldTransactions: cfg.excludeOldTransactions,
	})
	if err != nil {
		return nil, err
	}

	endpoint := cfg.productionURL
	if cfg.sandbox {
		endpoint = cfg.sandboxURL
	}

	result, err := a.verify(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}

	// Sandbox receipts sent to production are re-routed, as Apple recommends.
	if result.Status == StatusSandboxReceiptOnProduction && endpoint != cfg.sandboxURL {
		a.log.Debug("Receipt is from the sandbox, re-routing")
		result, err = a.verify(ctx, cfg.sandboxURL, body)
		if err != nil {
			return nil, err
		}
	}

	if result.Status != StatusOK {
		return &iap.Response{Service: iap.Apple, Status: iap.StatusFailure, Raw: result},
			errors.Wrapf(iap.ErrReceiptRejected, "apple status %d: %s", result.Status, StatusText(result.Status))
	}

	return &iap.Response{Service: iap.Apple, Status: iap.StatusSuccess, Raw: result}, nil
}

func (a *Adapter) verify(ctx context.Context, endpoint string, body []byte) (*VerifyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call verifyReceipt")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected http status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result VerifyResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode verifyReceipt response")
	}
	return &result, nil
}

func receiptData(receipt iap.Receipt) (string, error) {
	var encoded string
	switch r := receipt.(type) {
	case string:
		encoded = r
	case []byte:
		encoded = string(bytes.TrimSpace(r))
	default:
		return "", errors.Wrapf(iap.ErrInvalidReceipt, "expected base64 receipt string, got %T", receipt)
	}
	if encoded == "" {
		return "", errors.Wrap(iap.ErrInvalidReceipt, "empty receipt")
	}
	return encoded, nil
}

func (a *Adapter) GetPurchaseData(resp *iap.Response, opts iap.Options) ([]*iap.Purchase, bool) {
	if resp == nil {
		return nil, false
	}
	result, ok := resp.Raw.(*VerifyResponse)
	if !ok || result == nil {
		return nil, false
	}

	items := result.LatestReceiptInfo
	if len(items) == 0 {
		if result.Receipt == nil {
			return nil, false
		}
		items = result.Receipt.InApp
	}

	seen := make(map[string]struct{}, len(items))
	purchases := make([]*iap.Purchase, 0, len(items))
	for _, item := range items {
		if item.TransactionID == "" || item.ProductID == "" {
			return nil, false
		}
		if _, dup := seen[item.TransactionID]; dup {
			continue
		}
		seen[item.TransactionID] = struct{}{}

		quantity, _ := strconv.Atoi(item.Quantity)
		if quantity <= 0 {
			quantity = 1
		}

		purchases = append(purchases, &iap.Purchase{
			Service:               iap.Apple,
			ProductID:             item.ProductID,
			TransactionID:         item.TransactionID,
			OriginalTransactionID: item.OriginalTransactionID,
			PurchaseDate:          iap.FromMillis(parseMillis(item.PurchaseDateMS)),
			ExpirationDate:        iap.FromMillis(parseMillis(item.ExpiresDateMS)),
			CancellationDate:      iap.FromMillis(parseMillis(item.CancellationDateMS)),
			Quantity:              quantity,
		})
	}

	return iap.ApplyOptions(purchases, opts), true
}

func parseMillis(s string) int64 {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}
