package bridge

// Domain errors surfaced by the processing pipeline. Callers decide what a
// rejection means for redelivery: validation and duplicate rejections are
// terminal, everything else may be retried upstream.
var (
	ErrDuplicateOrder    = duplicateError("order has already been processed")
	ErrOrderNotFound     = notFoundError("order not found")
	ErrValidation        = validationError("invalid order data")
	ErrMissingPermission = permissionError("missing read permission for orders")
)

type duplicateError string

func (e duplicateError) Error() string { return string(e) }

type notFoundError string

func (e notFoundError) Error() string { return string(e) }

type validationError string

func (e validationError) Error() string { return string(e) }

// Is makes every validation failure match ErrValidation regardless of its
// message, so callers can classify without string comparison.
func (e validationError) Is(target error) bool {
	_, ok := target.(validationError)
	return ok
}

type permissionError string

func (e permissionError) Error() string { return string(e) }
