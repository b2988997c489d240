package windows

import (
	"bytes"
	"context"
	"encoding/xml"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/code-payments/iap-server/iap"
)

// Receipt is a Windows Store purchase receipt as returned by
// CurrentApp.GetProductReceiptAsync and friends.
type Receipt struct {
	XMLName         xml.Name         `xml:"Receipt"`
	Version         string           `xml:"Version,attr"`
	CertificateID   string           `xml:"CertificateId,attr"`
	ReceiptDate     string           `xml:"ReceiptDate,attr"`
	ReceiptDeviceID string           `xml:"ReceiptDeviceId,attr"`
	AppReceipt      *AppReceipt      `xml:"AppReceipt"`
	ProductReceipts []ProductReceipt `xml:"ProductReceipt"`
	Signature       *Signature       `xml:"Signature"`
}

type AppReceipt struct {
	ID             string `xml:"Id,attr"`
	AppID          string `xml:"AppId,attr"`
	PurchaseDate   string `xml:"PurchaseDate,attr"`
	ExpirationDate string `xml:"ExpirationDate,attr"`
	LicenseType    string `xml:"LicenseType,attr"`
}

type ProductReceipt struct {
	ID             string `xml:"Id,attr"`
	AppID          string `xml:"AppId,attr"`
	ProductID      string `xml:"ProductId,attr"`
	ProductType    string `xml:"ProductType,attr"`
	PurchaseDate   string `xml:"PurchaseDate,attr"`
	ExpirationDate string `xml:"ExpirationDate,attr"`
}

type Signature struct {
	SignatureValue string `xml:"SignatureValue"`
}

// Adapter checks the structure of Windows Store receipts. It talks to no
// service, so it has no Setup.
type Adapter struct {
	log *zap.Logger
}

func NewAdapter(log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		log: log.With(zap.String("service", iap.Windows.String())),
	}
}

func (a *Adapter) Service() iap.Service {
	return iap.Windows
}

// ReadConfig is a no-op: no configuration option applies to Windows receipts.
func (a *Adapter) ReadConfig(_ iap.Config) {}

func (a *Adapter) ValidatePurchase(_ context.Context, receipt iap.Receipt) (*iap.Response, error) {
	var data []byte
	switch r := receipt.(type) {
	case string:
		data = []byte(r)
	case []byte:
		data = r
	default:
		return nil, errors.Wrapf(iap.ErrInvalidReceipt, "expected xml receipt, got %T", receipt)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.Wrap(iap.ErrInvalidReceipt, "empty receipt")
	}

	var parsed Receipt
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(iap.ErrInvalidReceipt, err.Error())
	}

	if parsed.Signature == nil || parsed.Signature.SignatureValue == "" {
		a.log.Warn("Receipt is not signed", zap.String("receipt_device_id", parsed.ReceiptDeviceID))
		return &iap.Response{Service: iap.Windows, Status: iap.StatusPossibleHack, Raw: &parsed},
			errors.Wrap(iap.ErrReceiptRejected, "receipt has no signature")
	}

	if err := checkReceipt(&parsed); err != nil {
		return &iap.Response{Service: iap.Windows, Status: iap.StatusFailure, Raw: &parsed},
			errors.Wrap(iap.ErrReceiptRejected, err.Error())
	}

	return &iap.Response{Service: iap.Windows, Status: iap.StatusSuccess, Raw: &parsed}, nil
}

func checkReceipt(r *Receipt) error {
	if r.AppReceipt == nil && len(r.ProductReceipts) == 0 {
		return errors.New("receipt has no app or product receipts")
	}
	if r.AppReceipt != nil && r.AppReceipt.ID == "" {
		return errors.New("app receipt has no id")
	}
	for _, p := range r.ProductReceipts {
		if p.ID == "" || p.ProductID == "" {
			return errors.New("product receipt is missing Id or ProductId")
		}
	}
	_, err := toPurchases(r)
	return err
}

// toPurchases normalizes r. The app receipt only yields a record for full
// licenses, but its dates are always checked.
func toPurchases(r *Receipt) ([]*iap.Purchase, error) {
	var purchases []*iap.Purchase

	if r.AppReceipt != nil {
		purchaseDate, err := parseDate(r.AppReceipt.PurchaseDate)
		if err != nil {
			return nil, errors.Wrap(err, "app receipt purchase date")
		}
		expirationDate, err := parseDate(r.AppReceipt.ExpirationDate)
		if err != nil {
			return nil, errors.Wrap(err, "app receipt expiration date")
		}
		if r.AppReceipt.LicenseType == "Full" {
			purchases = append(purchases, &iap.Purchase{
				Service:               iap.Windows,
				ProductID:             r.AppReceipt.AppID,
				TransactionID:         r.AppReceipt.ID,
				OriginalTransactionID: r.AppReceipt.ID,
				PurchaseDate:          purchaseDate,
				ExpirationDate:        expirationDate,
				Quantity:              1,
			})
		}
	}

	for _, p := range r.ProductReceipts {
		purchaseDate, err := parseDate(p.PurchaseDate)
		if err != nil {
			return nil, errors.Wrapf(err, "product receipt %s purchase date", p.ID)
		}
		expirationDate, err := parseDate(p.ExpirationDate)
		if err != nil {
			return nil, errors.Wrapf(err, "product receipt %s expiration date", p.ID)
		}
		purchases = append(purchases, &iap.Purchase{
			Service:               iap.Windows,
			ProductID:             p.ProductID,
			TransactionID:         p.ID,
			OriginalTransactionID: p.ID,
			PurchaseDate:          purchaseDate,
			ExpirationDate:        expirationDate,
			Quantity:              1,
		})
	}

	return purchases, nil
}

// parseDate returns the zero time for empty dates and for the far-future
// dates the store uses on durable products.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	if t.Year() >= 9999 {
		return time.Time{}, nil
	}
	return t.UTC(), nil
}

func (a *Adapter) GetPurchaseData(resp *iap.Response, opts iap.Options) ([]*iap.Purchase, bool) {
	if resp == nil {
		return nil, false
	}
	r, ok := resp.Raw.(*Receipt)
	if !ok || r == nil {
		return nil, false
	}
	if err := checkReceipt(r); err != nil {
		a.log.Debug("Unreadable receipt", zap.Error(err))
		return nil, false
	}

	purchases, err := toPurchases(r)
	if err != nil {
		return nil, false
	}
	return iap.ApplyOptions(purchases, opts), true
}
