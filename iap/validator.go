package iap

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Validator dispatches receipts to the adapter registered for their storefront
// and normalizes the results. All adapter state lives behind a Validator, so
// independent Validators never share configuration.
type Validator struct {
	log      *zap.Logger
	metrics  *Metrics
	registry *Registry
}

func NewValidator(log *zap.Logger, metrics *Metrics, adapters ...Adapter) (*Validator, error) {
	if log == nil {
		log = zap.NewNop()
	}

	registry, err := NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}

	return &Validator{
		log:      log,
		metrics:  metrics,
		registry: registry,
	}, nil
}

func (v *Validator) Registry() *Registry {
	return v.registry
}

// Configure hands cfg to every adapter in registration order. Each call fully
// replaces the previous configuration.
func (v *Validator) Configure(cfg Config) {
	for _, a := range v.registry.Adapters() {
		a.ReadConfig(cfg)
	}
	v.log.Debug("Configured adapters", zap.Stringers("services", v.registry.Services()))
}

// Validate checks receipt against the storefront identified by service. The
// adapter's response and error are returned unchanged; the error may come
// alongside the storefront's failure response.
func (v *Validator) Validate(ctx context.Context, service Service, receipt Receipt) (*Response, error) {
	adapter, err := v.registry.AdapterFor(service)
	if err != nil {
		v.metrics.recordValidation(service, resultUnknownService, 0)
		v.log.Warn("Rejecting receipt for unknown service", zap.String("service", service.String()))
		return nil, err
	}

	log := v.log.With(
		zap.String("validation_id", uuid.NewString()),
		zap.String("service", service.String()),
	)

	log.Debug("Validating receipt")

	start := time.Now()
	resp, err := adapter.ValidatePurchase(ctx, receipt)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		v.metrics.recordValidation(service, resultError, elapsed)
		log.Warn("Failed to validate receipt", zap.Error(err), zap.Duration("elapsed", elapsed))
	case !IsValidated(resp):
		v.metrics.recordValidation(service, resultFailure, elapsed)
		log.Debug("Receipt not validated", zap.Duration("elapsed", elapsed))
	default:
		v.metrics.recordValidation(service, resultSuccess, elapsed)
		log.Debug("Receipt validated", zap.Duration("elapsed", elapsed))
	}

	return resp, err
}

// GetPurchaseData normalizes resp into purchase records using the adapter that
// produced it. It returns false when resp names no registered service or the
// adapter cannot read the body.
func (v *Validator) GetPurchaseData(resp *Response, opts Options) ([]*Purchase, bool) {
	if resp == nil || resp.Service == "" {
		return nil, false
	}

	adapter, err := v.registry.AdapterFor(resp.Service)
	if err != nil {
		return nil, false
	}

	return adapter.GetPurchaseData(resp, opts)
}

// Reset clears state built during Setup on adapters that hold any. Callers that
// need a clean slate can also just build a new Validator.
func (v *Validator) Reset() {
	for _, a := range v.registry.Adapters() {
		if r, ok := a.(Resetter); ok {
			r.Reset()
		}
	}
}
