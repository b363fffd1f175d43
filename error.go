package kvtxn

import "fmt"

// ErrorCode enumerates the taxonomy from the transaction subsystem's error
// handling design. Values are stable and may be matched on by callers.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	KeyNotFound
	DuplicateKey
	TxnConflict
	CursorStillOpen
	TxnStillOpen
	InvalidParameter
	LimitsReached
	IO
	OutOfMemory
)

func (c ErrorCode) String() string {
	switch c {
	case KeyNotFound:
		return "KEY_NOT_FOUND"
	case DuplicateKey:
		return "DUPLICATE_KEY"
	case TxnConflict:
		return "TXN_CONFLICT"
	case CursorStillOpen:
		return "CURSOR_STILL_OPEN"
	case TxnStillOpen:
		return "TXN_STILL_OPEN"
	case InvalidParameter:
		return "INVALID_PARAMETER"
	case LimitsReached:
		return "LIMITS_REACHED"
	case IO:
		return "IO"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	default:
		return "UNKNOWN"
	}
}

// Error is the module's custom error type, carrying a taxonomy code, the
// underlying cause (if any), and free-form context useful for diagnostics
// (e.g. the key that conflicted).
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s", e.Code)
	}
	return fmt.Sprintf("%s: %v (user data: %v)", e.Code, e.Err, e.UserData)
}

func (e Error) Unwrap() error {
	return e.Err
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(Error); ok {
			if e.Code == code {
				return true
			}
			err = e.Err
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// newErr is a small constructor used throughout the package.
func newErr(code ErrorCode, err error, userData any) Error {
	return Error{Code: code, Err: err, UserData: userData}
}

// NewIOError wraps err (typically from the wal or store packages) as an IO-coded Error.
func NewIOError(err error) Error {
	return newErr(IO, err, nil)
}

// NewDuplicateKeyError reports a non-duplicate, non-overwrite insert on an existing key.
func NewDuplicateKeyError(key []byte) Error {
	return newErr(DuplicateKey, nil, append([]byte(nil), key...))
}

// NewKeyNotFoundError reports an erase or find that found no matching key (or duplicate).
func NewKeyNotFoundError(key []byte) Error {
	return newErr(KeyNotFound, nil, append([]byte(nil), key...))
}

// NewTxnConflictError reports a write/write or write/read conflict between active txns on a key.
func NewTxnConflictError(key []byte) Error {
	return newErr(TxnConflict, nil, append([]byte(nil), key...))
}
