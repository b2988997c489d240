package amazon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/code-payments/iap-server/iap"
)

const (
	ProductionEndpoint = "https://appstore-sdk.amazon.com"
	SandboxEndpoint    = "https://appstore-sdk.amazon.com/sandbox"
)

// Receipt Verification Service status codes, besides 200.
const (
	statusInvalidReceipt   = 400
	statusInvalidSecret    = 496
	statusInvalidUser      = 497
	statusInternalRVSError = 500
)

const (
	ProductTypeConsumable   = "CONSUMABLE"
	ProductTypeEntitled     = "ENTITLED"
	ProductTypeSubscription = "SUBSCRIPTION"
)

// Receipt identifies an Amazon Appstore purchase.
type Receipt struct {
	UserID    string `json:"userId"`
	ReceiptID string `json:"receiptId"`
}

// ReceiptResponse is the body returned by the Receipt Verification Service.
// Dates are Unix milliseconds.
type ReceiptResponse struct {
	ReceiptID       string `json:"receiptId"`
	ProductType     string `json:"productType"`
	ProductID       string `json:"productId"`
	ParentProductID string `json:"parentProductId,omitempty"`
	PurchaseDate    int64  `json:"purchaseDate"`
	RenewalDate     int64  `json:"renewalDate,omitempty"`
	CancelDate      int64  `json:"cancelDate,omitempty"`
	Quantity        int    `json:"quantity,omitempty"`
	Term            string `json:"term,omitempty"`
	TermSku         string `json:"termSku,omitempty"`
	TestTransaction bool   `json:"testTransaction"`
	BetaProduct     bool   `json:"betaProduct"`
}

type config struct {
	secret   string
	endpoint string
}

// Adapter validates receipts with the Amazon Receipt Verification Service.
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
		log:        log.With(zap.String("service", iap.Amazon.String())),
		httpClient: httpClient,
		cfg:        config{endpoint: ProductionEndpoint},
	}
}

func (a *Adapter) Service() iap.Service {
	return iap.Amazon
}

func (a *Adapter) ReadConfig(cfg iap.Config) {
	next := config{
		secret:   cfg.AmazonSecret,
		endpoint: cfg.AmazonEndpoint,
	}
	if next.endpoint == "" {
		next.endpoint = ProductionEndpoint
		if cfg.Sandbox {
			next.endpoint = SandboxEndpoint
		}
	}
	next.endpoint = strings.TrimRight(next.endpoint, "/")

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg = next
}

func (a *Adapter) config() config {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.cfg
}

// Setup checks that the developer secret can be sent to the verification
// service. Without a secret the adapter stays disabled and Setup succeeds.
func (a *Adapter) Setup(_ context.Context) error {
	cfg := a.config()

	if _, err := url.ParseRequestURI(cfg.endpoint); err != nil {
		return errors.Wrapf(err, "invalid endpoint %q", cfg.endpoint)
	}

	if cfg.secret == "" {
		a.log.Debug("No developer secret configured, adapter disabled")
		return nil
	}
	if strings.ContainsAny(cfg.secret, "/?# \t\r\n") {
		return errors.New("developer secret contains characters that are not allowed in a url path")
	}
	return nil
}

func (a *Adapter) ValidatePurchase(ctx context.Context, receipt iap.Receipt) (*iap.Response, error) {
	r, err := parseReceipt(receipt)
	if err != nil {
		return nil, err
	}

	cfg := a.config()
	if cfg.secret == "" {
		return nil, errors.Wrap(iap.ErrNotConfigured, "amazon developer secret not set")
	}

	endpoint := fmt.Sprintf("%s/version/1.0/verifyReceiptId/developer/%s/user/%s/receiptId/%s",
		cfg.endpoint,
		url.PathEscape(cfg.secret),
		url.PathEscape(r.UserID),
		url.PathEscape(r.ReceiptID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		// The url embeds the developer secret.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, errors.Wrap(err, "failed to call receipt verification service")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case statusInvalidReceipt, statusInvalidUser:
		return &iap.Response{Service: iap.Amazon, Status: iap.StatusFailure},
			errors.Wrapf(iap.ErrReceiptRejected, "amazon status %d", resp.StatusCode)
	case statusInvalidSecret:
		return nil, errors.Wrap(iap.ErrNotConfigured, "amazon rejected the developer secret")
	default:
		a.log.Warn("Unexpected response from receipt verification service", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("unexpected http status code: %d", resp.StatusCode)
	}

	var result ReceiptResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode receipt verification response")
	}

	return &iap.Response{Service: iap.Amazon, Status: iap.StatusSuccess, Raw: &result}, nil
}

func parseReceipt(receipt iap.Receipt) (*Receipt, error) {
	var r Receipt
	switch v := receipt.(type) {
	case Receipt:
		r = v
	case *Receipt:
		if v == nil {
			return nil, errors.Wrap(iap.ErrInvalidReceipt, "receipt is nil")
		}
		r = *v
	case string:
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, errors.Wrap(iap.ErrInvalidReceipt, err.Error())
		}
	case []byte:
		if err := json.Unmarshal(bytes.TrimSpace(v), &r); err != nil {
			return nil, errors.Wrap(iap.ErrInvalidReceipt, err.Error())
		}
	default:
		return nil, errors.Wrapf(iap.ErrInvalidReceipt, "unsupported receipt type %T", receipt)
	}

	if r.UserID == "" || r.ReceiptID == "" {
		return nil, errors.Wrap(iap.ErrInvalidReceipt, "userId and receiptId are required")
	}
	return &r, nil
}

func (a *Adapter) GetPurchaseData(resp *iap.Response, opts iap.Options) ([]*iap.Purchase, bool) {
	if resp == nil {
		return nil, false
	}
	result, ok := resp.Raw.(*ReceiptResponse)
	if !ok || result == nil || result.ReceiptID == "" {
		return nil, false
	}
	if result.ProductID == "" || result.PurchaseDate <= 0 {
		return nil, false
	}

	quantity := result.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	p := &iap.Purchase{
		Service:               iap.Amazon,
		ProductID:             result.ProductID,
		TransactionID:         result.ReceiptID,
		OriginalTransactionID: result.ReceiptID,
		PurchaseDate:          iap.FromMillis(result.PurchaseDate),
		Quantity:              quantity,
	}

	// For subscriptions the cancel date is when the subscription ended; for
	// everything else it marks a canceled purchase.
	if result.ProductType == ProductTypeSubscription {
		p.ExpirationDate = iap.FromMillis(result.CancelDate)
	} else {
		p.CancellationDate = iap.FromMillis(result.CancelDate)
	}

	return iap.ApplyOptions([]*iap.Purchase{p}, opts), true
}
