package iap

import (
	"context"

	"go.uber.org/zap"
)

type setupResult struct {
	service Service
	err     error
}

// Setup initializes every adapter that implements Initializer concurrently.
//
// The first adapter to fail determines the returned *SetupError. Adapters still
// running at that point are left to finish; their results land in a buffered
// channel nobody reads. If ctx ends before all adapters report, ctx.Err() is
// returned.
func (v *Validator) Setup(ctx context.Context) error {
	var initializers []Adapter
	for _, a := range v.registry.Adapters() {
		if _, ok := a.(Initializer); ok {
			initializers = append(initializers, a)
		}
	}

	results := make(chan setupResult, len(initializers))
	for _, a := range initializers {
		go func(a Adapter) {
			err := a.(Initializer).Setup(ctx)
			v.metrics.recordSetup(a.Service(), err)
			results <- setupResult{service: a.Service(), err: err}
		}(a)
	}

	for remaining := len(initializers); remaining > 0; remaining-- {
		select {
		case res := <-results:
			if res.err != nil {
				v.log.Warn("Failed to set up adapter", zap.String("service", res.service.String()), zap.Error(res.err))
				return &SetupError{Service: res.service, Err: res.err}
			}
			v.log.Debug("Adapter ready", zap.String("service", res.service.String()))
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
