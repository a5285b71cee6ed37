package services

import (
	"fmt"

	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/payments"
)

// NoticeLevel grades the message shown to the shopper.
type NoticeLevel string

const (
	NoticeInfo     NoticeLevel = "info"
	NoticeSuccess  NoticeLevel = "success"
	NoticeWarning  NoticeLevel = "warning"
	NoticeError    NoticeLevel = "error"
	NoticeCritical NoticeLevel = "critical"
)

// Notice is the user-facing outcome message carried by every payment response.
type Notice struct {
	Level   NoticeLevel
	Code    string
	Message string
}

// NoticeFor describes an attempt's status to the shopper. Failures after a possible charge
// always say whether to pay again.
func NoticeFor(attempt payments.Attempt) Notice {
	amount := domain.FormatAmount(attempt.AmountMinorUnits, attempt.Currency)
	switch attempt.Status {
	case payments.StatusInitiated:
		return Notice{Level: NoticeInfo, Code: "payment_pending", Message: "Complete the payment in the payment window."}
	case payments.StatusSucceededClient, payments.StatusVerifying:
		return Notice{Level: NoticeInfo, Code: "payment_verifying", Message: "We are confirming your payment. Please do not close this page."}
	case payments.StatusVerified:
		return Notice{Level: NoticeInfo, Code: "payment_verified", Message: "Payment confirmed. We are creating your order."}
	case payments.StatusVerifyFailed:
		if attempt.FailureCode == payments.FailureVerificationUnavailable {
			return Notice{
				Level:   NoticeWarning,
				Code:    string(payments.FailureVerificationUnavailable),
				Message: fmt.Sprintf("We could not confirm your payment right now. If you were charged %s, contact support with reference %s before trying again.", amount, attempt.Reference),
			}
		}
		if attempt.FailureCode == payments.FailureVerificationPending {
			return Notice{
				Level:   NoticeWarning,
				Code:    string(payments.FailureVerificationPending),
				Message: fmt.Sprintf("Your payment is still processing. Do not pay again; we will confirm your order once it clears. Reference %s.", attempt.Reference),
			}
		}
		return Notice{
			Level:   NoticeError,
			Code:    string(payments.FailureVerificationRejected),
			Message: "We could not verify your payment, so you have not been charged. You can try again.",
		}
	case payments.StatusVerifyTimedOut:
		return Notice{
			Level:   NoticeWarning,
			Code:    string(payments.FailureVerificationTimedOut),
			Message: fmt.Sprintf("Payment verification timed out. Do not retry the charge. Contact support with reference %s.", attempt.Reference),
		}
	case payments.StatusCancelled:
		return Notice{Level: NoticeInfo, Code: "payment_cancelled", Message: "Payment cancelled. Your cart is saved."}
	case payments.StatusErrored:
		msg := "The payment could not be completed. You can try again."
		if attempt.FailureMessage != "" {
			msg = fmt.Sprintf("The payment could not be completed: %s. You can try again.", attempt.FailureMessage)
		}
		return Notice{Level: NoticeError, Code: string(payments.FailureGatewayError), Message: msg}
	case payments.StatusOrderCreated:
		return Notice{Level: NoticeSuccess, Code: "order_created", Message: fmt.Sprintf("Order %s confirmed. Thank you!", attempt.OrderNumber)}
	case payments.StatusOrderCreationFailed:
		return Notice{
			Level:   NoticeCritical,
			Code:    string(payments.FailureOrderCreation),
			Message: fmt.Sprintf("Your payment of %s succeeded but we could not create your order. Do not pay again. Contact support with reference %s.", amount, attempt.Reference),
		}
	default:
		return Notice{Level: NoticeError, Code: "payment_unknown", Message: "We could not determine the payment status. Contact support."}
	}
}
