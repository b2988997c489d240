package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/iap-server/iap"
)

// SetupFunc lets tests control how the adapter behaves during Setup.
type SetupFunc func(ctx context.Context) error

// Message is the signed portion of a memory receipt.
type Message struct {
	ProductID      string    `json:"productId"`
	TransactionID  string    `json:"transactionId"`
	PurchaseDate   time.Time `json:"purchaseDate"`
	ExpirationDate time.Time `json:"expirationDate,omitempty"`
	Quantity       int       `json:"quantity,omitempty"`
}

// Adapter is an in-memory adapter that checks an ed25519 signature on the
// receipt. The receipt format is base64(signature)|message, where message is
// the JSON encoding of a Message signed by the owner key.
type Adapter struct {
	service   iap.Service
	publicKey ed25519.PublicKey
	setup     SetupFunc

	mu  sync.RWMutex
	cfg iap.Config

	setupCalls    atomic.Int64
	validateCalls atomic.Int64
}

// NewAdapter creates a memory adapter answering for service. A nil setup
// always succeeds.
func NewAdapter(service iap.Service, pubKey ed25519.PublicKey, setup SetupFunc) *Adapter {
	return &Adapter{
		service:   service,
		publicKey: pubKey,
		setup:     setup,
	}
}

func (a *Adapter) Service() iap.Service {
	return a.service
}

func (a *Adapter) ReadConfig(cfg iap.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg = cfg
}

// Config returns the configuration last handed to ReadConfig.
func (a *Adapter) Config() iap.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.cfg
}

func (a *Adapter) Setup(ctx context.Context) error {
	a.setupCalls.Add(1)
	if a.setup == nil {
		return nil
	}
	return a.setup(ctx)
}

func (a *Adapter) SetupCalls() int64 {
	return a.setupCalls.Load()
}

func (a *Adapter) ValidateCalls() int64 {
	return a.validateCalls.Load()
}

func (a *Adapter) ValidatePurchase(_ context.Context, receipt iap.Receipt) (*iap.Response, error) {
	a.validateCalls.Add(1)

	encoded, ok := receipt.(string)
	if !ok {
		return nil, errors.Wrapf(iap.ErrInvalidReceipt, "expected string receipt, got %T", receipt)
	}

	signature, message, err := parseReceipt(encoded)
	if err != nil {
		return nil, errors.Wrap(iap.ErrInvalidReceipt, err.Error())
	}

	if !ed25519.Verify(a.publicKey, message, signature) {
		return &iap.Response{Service: a.service, Status: iap.StatusFailure}, errors.Wrap(iap.ErrReceiptRejected, "signature mismatch")
	}

	var decoded Message
	if err := json.Unmarshal(message, &decoded); err != nil {
		return nil, errors.Wrap(iap.ErrInvalidReceipt, err.Error())
	}

	return &iap.Response{Service: a.service, Status: iap.StatusSuccess, Raw: &decoded}, nil
}

func (a *Adapter) GetPurchaseData(resp *iap.Response, opts iap.Options) ([]*iap.Purchase, bool) {
	if resp == nil {
		return nil, false
	}
	msg, ok := resp.Raw.(*Message)
	if !ok || msg == nil {
		return nil, false
	}

	quantity := msg.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	purchases := []*iap.Purchase{{
		Service:               a.service,
		ProductID:             msg.ProductID,
		TransactionID:         msg.TransactionID,
		OriginalTransactionID: msg.TransactionID,
		PurchaseDate:          msg.PurchaseDate,
		ExpirationDate:        msg.ExpirationDate,
		Quantity:              quantity,
	}}
	return iap.ApplyOptions(purchases, opts), true
}

func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// GenerateValidReceipt signs msg with the owner key.
func GenerateValidReceipt(owner ed25519.PrivateKey, msg Message) string {
	message, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	signature := ed25519.Sign(owner, message)
	return base64.StdEncoding.EncodeToString(signature) + "|" + string(message)
}

func parseReceipt(receipt string) (signature []byte, message []byte, err error) {
	parts := strings.SplitN(receipt, "|", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("invalid receipt format: %s", receipt)
	}

	signature, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("error decoding signature: %w", err)
	}

	return signature, []byte(parts[1]), nil
}
