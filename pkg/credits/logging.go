package credits

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records state-changing ledger operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one ledger operation and its outcome.
type OperationLog struct {
	Operation  string
	Owner      OwnerID
	Quantity   int
	BookingRef string
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every
// state-changing operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

const (
	operationPurchase = "purchase"
	operationConsume  = "consume"
	operationRefund   = "refund"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
