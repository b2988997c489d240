// Package storefront wires the four storefront adapters into a Validator.
package storefront

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/code-payments/iap-server/iap"
	"github.com/code-payments/iap-server/iap/amazon"
	"github.com/code-payments/iap-server/iap/apple"
	"github.com/code-payments/iap-server/iap/google"
	"github.com/code-payments/iap-server/iap/windows"
)

// NewValidator returns a Validator with the Apple, Google, Windows and Amazon
// adapters registered, in that order. httpClient may be nil.
func NewValidator(log *zap.Logger, metrics *iap.Metrics, httpClient *http.Client) (*iap.Validator, error) {
	if log == nil {
		log = zap.NewNop()
	}

	return iap.NewValidator(
		log,
		metrics,
		apple.NewAdapter(log, httpClient),
		google.NewAdapter(log, httpClient),
		windows.NewAdapter(log),
		amazon.NewAdapter(log, httpClient),
	)
}
