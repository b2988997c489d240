package google

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/code-payments/iap-server/iap"
)

// Receipt identifies a Google Play purchase. It matches the purchase JSON the
// Play Billing Library hands to the app, plus whether the product is a
// subscription.
type Receipt struct {
	PackageName   string `json:"packageName"`
	ProductID     string `json:"productId"`
	PurchaseToken string `json:"purchaseToken"`
	Subscription  bool   `json:"subscription"`
}

// Result is the raw body of a Google validation response. Exactly one of
// Product and Subscription is set.
type Result struct {
	Receipt      Receipt
	Product      *androidpublisher.ProductPurchase
	Subscription *androidpublisher.SubscriptionPurchase
}

type config struct {
	serviceAccountPath string
	serviceAccountJSON []byte
	endpoint           string
}

// Adapter uses the Google Play Developer API to verify purchase tokens.
type Adapter struct {
	log        *zap.Logger
	httpClient *http.Client

	mu  sync.RWMutex
	cfg config
	svc *androidpublisher.Service
}

// NewAdapter creates a Google Play adapter. httpClient is only used when an
// endpoint override is configured without credentials, and may be nil.
func NewAdapter(log *zap.Logger, httpClient *http.Client) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		log:        log.With(zap.String("service", iap.Google.String())),
		httpClient: httpClient,
	}
}

func (a *Adapter) Service() iap.Service {
	return iap.Google
}

func (a *Adapter) ReadConfig(cfg iap.Config) {
	next := config{
		serviceAccountPath: cfg.GoogleServiceAccountPath,
		endpoint:           cfg.GoogleEndpoint,
	}
	if cfg.GoogleServiceAccountJSON != "" {
		next.serviceAccountJSON = []byte(cfg.GoogleServiceAccountJSON)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg = next
}

// Setup builds the publisher client from the configured service account. With
// no credentials configured the adapter stays disabled and Setup succeeds.
func (a *Adapter) Setup(ctx context.Context) error {
	a.mu.RLock()
	cfg := a.cfg
	a.mu.RUnlock()

	credentials := cfg.serviceAccountJSON
	if credentials == nil && cfg.serviceAccountPath != "" {
		data, err := os.ReadFile(cfg.serviceAccountPath)
		if err != nil {
			return errors.Wrap(err, "failed to read service account")
		}
		credentials = data
	}

	var opts []option.ClientOption
	switch {
	case credentials != nil:
		if err := checkServiceAccount(credentials); err != nil {
			return err
		}
		opts = append(opts, option.WithCredentialsJSON(credentials))
	case cfg.endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
		if a.httpClient != nil {
			opts = append(opts, option.WithHTTPClient(a.httpClient))
		}
	default:
		a.log.Debug("No service account configured, adapter disabled")
		a.Reset()
		return nil
	}

	if cfg.endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.endpoint))
	}

	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return errors.Wrap(err, "failed to create android publisher client")
	}

	a.mu.Lock()
	a.svc = svc
	a.mu.Unlock()

	return nil
}

// Reset drops the publisher client built by Setup.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.svc = nil
}

func checkServiceAccount(data []byte) error {
	var key struct {
		Type        string `json:"type"`
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return errors.Wrap(err, "invalid service account json")
	}
	if key.Type != "service_account" || key.ClientEmail == "" || key.PrivateKey == "" {
		return errors.New("service account json is missing type, client_email or private_key")
	}
	return nil
}

func (a *Adapter) ValidatePurchase(ctx context.Context, receipt iap.Receipt) (*iap.Response, error) {
	r, err := parseReceipt(receipt)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	svc := a.svc
	a.mu.RUnlock()

	if svc == nil {
		return nil, errors.Wrap(iap.ErrNotConfigured, "google play service account not set up")
	}

	log := a.log.With(
		zap.String("package_name", r.PackageName),
		zap.String("product_id", r.ProductID),
	)

	result := &Result{Receipt: *r}
	if r.Subscription {
		result.Subscription, err = svc.Purchases.Subscriptions.Get(r.PackageName, r.ProductID, r.PurchaseToken).Context(ctx).Do()
	} else {
		result.Product, err = svc.Purchases.Products.Get(r.PackageName, r.ProductID, r.PurchaseToken).Context(ctx).Do()
	}
	if err != nil {
		log.Debug("Play Developer API call failed", zap.Error(err))
		return classify(err)
	}

	// 0 = purchased, 1 = canceled, 2 = pending.
	if result.Product != nil && result.Product.PurchaseState != 0 {
		return &iap.Response{Service: iap.Google, Status: iap.StatusFailure, Raw: result},
			errors.Wrapf(iap.ErrReceiptRejected, "purchase state %d", result.Product.PurchaseState)
	}

	return &iap.Response{Service: iap.Google, Status: iap.StatusSuccess, Raw: result}, nil
}

func classify(err error) (*iap.Response, error) {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return nil, err
	}

	switch apiErr.Code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone:
		return &iap.Response{Service: iap.Google, Status: iap.StatusFailure}, errors.Wrap(iap.ErrReceiptRejected, apiErr.Error())
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, errors.Wrap(iap.ErrNotConfigured, apiErr.Error())
	default:
		return nil, err
	}
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

	if r.PackageName == "" || r.ProductID == "" || r.PurchaseToken == "" {
		return nil, errors.Wrap(iap.ErrInvalidReceipt, "packageName, productId and purchaseToken are required")
	}
	return &r, nil
}

func (a *Adapter) GetPurchaseData(resp *iap.Response, opts iap.Options) ([]*iap.Purchase, bool) {
	if resp == nil {
		return nil, false
	}
	result, ok := resp.Raw.(*Result)
	if !ok || result == nil {
		return nil, false
	}

	p := &iap.Purchase{
		Service:   iap.Google,
		ProductID: result.Receipt.ProductID,
		Quantity:  1,
	}

	switch {
	case result.Product != nil:
		p.TransactionID = result.Product.OrderId
		p.PurchaseDate = iap.FromMillis(result.Product.PurchaseTimeMillis)
		if result.Product.Quantity > 0 {
			p.Quantity = int(result.Product.Quantity)
		}
		if result.Product.ProductId != "" {
			p.ProductID = result.Product.ProductId
		}
	case result.Subscription != nil:
		p.TransactionID = result.Subscription.OrderId
		p.PurchaseDate = iap.FromMillis(result.Subscription.StartTimeMillis)
		p.ExpirationDate = iap.FromMillis(result.Subscription.ExpiryTimeMillis)
		p.CancellationDate = iap.FromMillis(result.Subscription.UserCancellationTimeMillis)
	default:
		return nil, false
	}

	if p.TransactionID == "" {
		p.TransactionID = result.Receipt.PurchaseToken
	}

	// Renewal order ids carry a "..N" suffix on the original order id.
	p.OriginalTransactionID, _, _ = strings.Cut(p.TransactionID, "..")

	return iap.ApplyOptions([]*iap.Purchase{p}, opts), true
}
