package apple

// verifyReceipt status codes.
const (
	StatusOK                         = 0
	StatusBadJSON                    = 21000
	StatusMalformedReceipt           = 21002
	StatusNotAuthenticated           = 21003
	StatusSharedSecretMismatch       = 21004
	StatusServerUnavailable          = 21005
	StatusSubscriptionExpired        = 21006
	StatusSandboxReceiptOnProduction = 21007
	StatusProductionReceiptOnSandbox = 21008
	StatusInternalError              = 21009
	StatusAccountNotFound            = 21010
)

var statusText = map[int]string{
	StatusOK:                         "valid receipt",
	StatusBadJSON:                    "the App Store could not read the JSON object you provided",
	StatusMalformedReceipt:           "the data in the receipt-data property was malformed or missing",
	StatusNotAuthenticated:           "the receipt could not be authenticated",
	StatusSharedSecretMismatch:       "the shared secret you provided does not match the shared secret on file for your account",
	StatusServerUnavailable:          "the receipt server is not currently available",
	StatusSubscriptionExpired:        "this receipt is valid but the subscription has expired",
	StatusSandboxReceiptOnProduction: "this receipt is from the test environment but was sent to the production environment",
	StatusProductionReceiptOnSandbox: "this receipt is from the production environment but was sent to the test environment",
	StatusInternalError:              "internal data access error",
	StatusAccountNotFound:            "the user account cannot be found or has been deleted",
}

func StatusText(status int) string {
	if text, ok := statusText[status]; ok {
		return text
	}
	return "unknown status"
}

// VerifyResponse is the body returned by verifyReceipt.
type VerifyResponse struct {
	Status            int            `json:"status"`
	Environment       string         `json:"environment"`
	Receipt           *Receipt       `json:"receipt"`
	LatestReceipt     string         `json:"latest_receipt,omitempty"`
	LatestReceiptInfo []InAppReceipt `json:"latest_receipt_info,omitempty"`
}

type Receipt struct {
	BundleID                   string         `json:"bundle_id"`
	ApplicationVersion         string         `json:"application_version"`
	OriginalApplicationVersion string         `json:"original_application_version"`
	InApp                      []InAppReceipt `json:"in_app"`
}

// InAppReceipt dates are millisecond timestamps encoded as strings.
type InAppReceipt struct {
	Quantity              string `json:"quantity"`
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms,omitempty"`
	CancellationDateMS    string `json:"cancellation_date_ms,omitempty"`
}
