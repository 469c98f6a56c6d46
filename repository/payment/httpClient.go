package paymentrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"bookloan/util/httpx"
)

type httpProvider struct {
	apiKey string
	client *http.Client
}

func NewHTTP(apiKey string) Provider {
	return &httpProvider{apiKey: apiKey, client: httpx.Client()}
}

func (p *httpProvider) CreateInvoice(req CreateInvoiceReq) (*CreateInvoiceResp, error) {
	body := map[string]any{
		"external_id":      req.ExternalID,
		"amount":           req.Amount,
		"description":      req.Description,
		"payer_email":      req.PayerEmail,
		"invoice_duration": req.ExpirySec,
	}
	b, _ := json.Marshal(body)
	httpReq, err := http.NewRequest(http.MethodPost, "https://api.xendit.co/v2/invoices", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(p.apiKey, "")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("create invoice failed: %s", resp.Status)
	}

	var out struct {
		ID         string `json:"id"`
		InvoiceURL string `json:"invoice_url"`
		ExpiryDate string `json:"expiry_date"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("payment provider returned empty invoice id")
	}

	return &CreateInvoiceResp{InvoiceID: out.ID, InvoiceURL: out.InvoiceURL, ExpiresAt: out.ExpiryDate}, nil
}

func (p *httpProvider) VerifyCallbackSignature(sigHeader string, rawBody []byte) error {
	// TODO: verify the callback token once the provider account has one configured.
	return nil
}
