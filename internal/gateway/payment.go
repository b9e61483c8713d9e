package gateway

import (
	"context"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

// VerifyPaymentRequest asks the backend to confirm a payment against an order.
type VerifyPaymentRequest struct {
	OrderID          string `json:"order_id"`
	PaymentReference string `json:"payment_reference"`
	Provider         string `json:"provider,omitempty"`
}

// PaymentVerification is the backend's verdict on a payment.
type PaymentVerification struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// VerifyPayment confirms a completed payment for the authenticated user.
func (c *Client) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*PaymentVerification, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PaymentReference = strings.TrimSpace(req.PaymentReference)
	req.Provider = strings.TrimSpace(req.Provider)

	details := map[string]string{}
	if req.OrderID == "" {
		details["order_id"] = "is required"
	}
	if req.PaymentReference == "" {
		details["payment_reference"] = "is required"
	}
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}

	var out PaymentVerification
	if err := c.do(ctx, http.MethodPost, PathVerifyPayment, c.resolveToken(ctx, "", true), req, &out); err != nil {
		return nil, err
	}
	if out.OrderID == "" {
		out.OrderID = req.OrderID
	}
	return &out, nil
}
