package iap

import (
	"time"

	"github.com/pkg/errors"
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusFailure
	StatusPossibleHack
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusPossibleHack:
		return "possible_hack"
	default:
		return "unknown"
	}
}

// Response is an adapter's answer to a validation request. Raw holds the
// adapter-specific body and is only meaningful to the adapter named by Service.
type Response struct {
	Service Service
	Status  Status
	Raw     any
}

type Options struct {
	// IgnoreExpired drops records whose expiration date has passed.
	IgnoreExpired bool

	// IgnoreCanceled drops records the storefront reports as canceled or refunded.
	IgnoreCanceled bool
}

// Purchase is the storefront-independent representation of one purchased item
// or subscription period.
type Purchase struct {
	Service               Service
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	PurchaseDate          time.Time

	// ExpirationDate is zero for purchases that never expire.
	ExpirationDate time.Time

	// CancellationDate is zero unless the purchase was canceled or refunded.
	CancellationDate time.Time

	Quantity int
}

// IsValidated reports whether resp is a successful validation response. It
// never fails: nil and non-success responses are simply not valid.
func IsValidated(resp *Response) bool {
	return resp != nil && resp.Status == StatusSuccess
}

// IsExpired reports whether the purchase is at or past its expiration date.
// Purchases without an expiration date never expire.
func IsExpired(p *Purchase) (bool, error) {
	return isExpiredAt(p, time.Now())
}

func isExpiredAt(p *Purchase, now time.Time) (bool, error) {
	if p == nil {
		return false, errors.Wrap(ErrInvalidRecord, "purchase is nil")
	}
	if p.TransactionID == "" {
		return false, errors.Wrapf(ErrInvalidRecord, "purchase of %q has no transaction id", p.ProductID)
	}
	if p.ExpirationDate.IsZero() {
		return false, nil
	}
	return !now.Before(p.ExpirationDate), nil
}

// ApplyOptions filters normalized records according to opts. Adapters call it
// so that every storefront honors the same options the same way.
func ApplyOptions(purchases []*Purchase, opts Options) []*Purchase {
	return applyOptionsAt(purchases, opts, time.Now())
}

func applyOptionsAt(purchases []*Purchase, opts Options, now time.Time) []*Purchase {
	filtered := make([]*Purchase, 0, len(purchases))
	for _, p := range purchases {
		if opts.IgnoreCanceled && !p.CancellationDate.IsZero() {
			continue
		}
		if opts.IgnoreExpired {
			if expired, err := isExpiredAt(p, now); err == nil && expired {
				continue
			}
		}
		filtered = append(filtered, p)
	}
	return filtered
}

// FromMillis converts a Unix millisecond timestamp to a time. Zero and negative
// values map to the zero time.
func FromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
