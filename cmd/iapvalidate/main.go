package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/iap-server/config"
	"github.com/code-payments/iap-server/iap"
	"github.com/code-payments/iap-server/iap/storefront"
)

type purchaseOutput struct {
	ProductID             string     `json:"productId"`
	TransactionID         string     `json:"transactionId"`
	OriginalTransactionID string     `json:"originalTransactionId,omitempty"`
	PurchaseDate          time.Time  `json:"purchaseDate"`
	ExpirationDate        *time.Time `json:"expirationDate,omitempty"`
	CancellationDate      *time.Time `json:"cancellationDate,omitempty"`
	Quantity              int        `json:"quantity"`
	Expired               bool       `json:"expired"`
}

type output struct {
	Service   iap.Service      `json:"service"`
	Validated bool             `json:"validated"`
	Purchases []purchaseOutput `json:"purchases"`
}

func main() {
	var (
		configPath     = flag.String("config", "", "path to a YAML config file")
		service        = flag.String("service", "", "storefront: apple, google, windows or amazon")
		receiptPath    = flag.String("receipt", "", "path to the receipt file")
		ignoreExpired  = flag.Bool("ignore-expired", false, "omit expired purchases")
		ignoreCanceled = flag.Bool("ignore-canceled", false, "omit canceled purchases")
		timeout        = flag.Duration("timeout", 30*time.Second, "overall timeout")
		verbose        = flag.Bool("verbose", false, "development logging")
	)
	flag.Parse()

	if *service == "" || *receiptPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, *configPath, iap.Service(*service), *receiptPath, iap.Options{
		IgnoreExpired:  *ignoreExpired,
		IgnoreCanceled: *ignoreCanceled,
	}, *timeout); err != nil {
		logger.Error("Validation failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(logger *zap.Logger, configPath string, service iap.Service, receiptPath string, opts iap.Options, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	receipt, err := os.ReadFile(receiptPath)
	if err != nil {
		return err
	}

	validator, err := storefront.NewValidator(logger, nil, nil)
	if err != nil {
		return err
	}

	validator.Configure(cfg)
	if err := validator.Setup(ctx); err != nil {
		return err
	}

	resp, err := validator.Validate(ctx, service, receipt)
	if err != nil {
		return err
	}

	out := output{Service: service, Validated: iap.IsValidated(resp)}
	if !out.Validated {
		return fmt.Errorf("receipt not validated: status %s", resp.Status)
	}

	purchases, ok := validator.GetPurchaseData(resp, opts)
	if !ok {
		return fmt.Errorf("unreadable %s response", service)
	}

	for _, p := range purchases {
		expired, err := iap.IsExpired(p)
		if err != nil {
			return err
		}
		out.Purchases = append(out.Purchases, purchaseOutput{
			ProductID:             p.ProductID,
			TransactionID:         p.TransactionID,
			OriginalTransactionID: p.OriginalTransactionID,
			PurchaseDate:          p.PurchaseDate,
			ExpirationDate:        optionalTime(p.ExpirationDate),
			CancellationDate:      optionalTime(p.CancellationDate),
			Quantity:              p.Quantity,
			Expired:               expired,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
