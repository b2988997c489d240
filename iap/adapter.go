package iap

import "context"

// Receipt is a storefront-specific proof of purchase. Its shape is owned by the
// adapter that validates it; the core never inspects it.
type Receipt any

type Adapter interface {
	// Service returns the storefront this adapter validates receipts for.
	Service() Service

	// ReadConfig copies the options this adapter recognizes out of cfg,
	// replacing anything read previously. Unrecognized options are ignored.
	ReadConfig(cfg Config)

	// ValidatePurchase asks the storefront whether the receipt is genuine. Every
	// returned response names this adapter's Service. When
	// the storefront answered but rejected the receipt, implementations return
	// a StatusFailure response together with an error wrapping
	// ErrReceiptRejected.
	ValidatePurchase(ctx context.Context, receipt Receipt) (*Response, error)

	// GetPurchaseData unmarshals a response produced by this adapter into
	// purchase records. It returns false when the response body is not one this
	// adapter produced.
	GetPurchaseData(resp *Response, opts Options) ([]*Purchase, bool)
}

// Initializer is implemented by adapters that need to prepare network clients
// or credentials before validating receipts.
type Initializer interface {
	Setup(ctx context.Context) error
}

// Resetter is implemented by adapters holding state built during Setup.
type Resetter interface {
	Reset()
}
