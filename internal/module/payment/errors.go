package payment

import "errors"

// ErrPaymentNotFound is returned when a payment does not exist.
var ErrPaymentNotFound = errors.New("payment not found")
