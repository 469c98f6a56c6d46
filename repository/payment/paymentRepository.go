// repository/payment/repo.go
package paymentrepo

type CreateInvoiceReq struct {
	ExternalID  string
	Amount      float64
	PayerEmail  string
	Description string
	ExpirySec   int
}

type CreateInvoiceResp struct {
	InvoiceID  string
	InvoiceURL string
	ExpiresAt  string
}

// Provider is the external invoicing gateway used for online fine
// settlement. Cash settlement at the desk does not go through it.
type Provider interface {
	CreateInvoice(req CreateInvoiceReq) (*CreateInvoiceResp, error)
	VerifyCallbackSignature(sigHeader string, rawBody []byte) error
}
