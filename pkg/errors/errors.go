package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/stratadb-labs/strata-go/pkg/types"
)

// Code classifica todo erro observável do engine.
type Code int

const (
	CodeNotFound Code = iota + 1
	CodeVersionConflict
	CodeWriteConflict
	CodeTransactionAborted
	CodeTransactionTimeout
	CodeTransactionNotActive
	CodeInvalidOperation
	CodeInvalidInput
	CodeDimensionMismatch
	CodeCollectionNotFound
	CodeRunNotFound
	CodeCorruption
	CodeHistoryTrimmed
	CodeCapacityExceeded
	CodeBudgetExceeded
	CodeStorage
	CodeSerialization
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not found"
	case CodeVersionConflict:
		return "version conflict"
	case CodeWriteConflict:
		return "write conflict"
	case CodeTransactionAborted:
		return "transaction aborted"
	case CodeTransactionTimeout:
		return "transaction timeout"
	case CodeTransactionNotActive:
		return "transaction not active"
	case CodeInvalidOperation:
		return "invalid operation"
	case CodeInvalidInput:
		return "invalid input"
	case CodeDimensionMismatch:
		return "dimension mismatch"
	case CodeCollectionNotFound:
		return "collection not found"
	case CodeRunNotFound:
		return "run not found"
	case CodeCorruption:
		return "corruption"
	case CodeHistoryTrimmed:
		return "history trimmed"
	case CodeCapacityExceeded:
		return "capacity exceeded"
	case CodeBudgetExceeded:
		return "budget exceeded"
	case CodeStorage:
		return "storage error"
	case CodeSerialization:
		return "serialization error"
	case CodeInternal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// Error carrega o código mais o contexto estruturado: um EntityRef ou
// RunID sempre que aplicável, e campos específicos do código.
type Error struct {
	Code Code

	Ref *types.EntityRef
	Run types.RunID

	// VersionConflict
	Expected types.Version
	Actual   types.Version

	// DimensionMismatch
	ExpectedDim int
	GotDim      int

	// HistoryTrimmed
	OldestRetained types.Version

	// TransactionAborted / InvalidOperation / InvalidInput
	Reason string

	// Causa subjacente (I/O, serialização)
	Err error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Ref != nil {
		msg = fmt.Sprintf("%s on %s", msg, e.Ref)
	} else if e.Run != "" {
		msg = fmt.Sprintf("%s on run %s", msg, e.Run)
	}
	switch e.Code {
	case CodeVersionConflict:
		msg = fmt.Sprintf("%s: expected %s, got %s", msg, e.Expected, e.Actual)
	case CodeDimensionMismatch:
		msg = fmt.Sprintf("%s: expected %d, got %d", msg, e.ExpectedDim, e.GotDim)
	case CodeHistoryTrimmed:
		msg = fmt.Sprintf("%s: oldest retained %s", msg, e.OldestRetained)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// === Construtores ===

func NotFound(ref types.EntityRef) *Error {
	return &Error{Code: CodeNotFound, Ref: &ref}
}

func VersionConflict(ref types.EntityRef, expected, actual types.Version) *Error {
	return &Error{Code: CodeVersionConflict, Ref: &ref, Expected: expected, Actual: actual}
}

func WriteConflict(ref types.EntityRef) *Error {
	return &Error{Code: CodeWriteConflict, Ref: &ref}
}

func TransactionAborted(run types.RunID, reason string) *Error {
	return &Error{Code: CodeTransactionAborted, Run: run, Reason: reason}
}

func TransactionTimeout(run types.RunID) *Error {
	return &Error{Code: CodeTransactionTimeout, Run: run}
}

func TransactionNotActive(run types.RunID) *Error {
	return &Error{Code: CodeTransactionNotActive, Run: run}
}

func InvalidOperation(reason string) *Error {
	return &Error{Code: CodeInvalidOperation, Reason: reason}
}

func InvalidInput(reason string) *Error {
	return &Error{Code: CodeInvalidInput, Reason: reason}
}

func DimensionMismatch(ref types.EntityRef, expected, got int) *Error {
	return &Error{Code: CodeDimensionMismatch, Ref: &ref, ExpectedDim: expected, GotDim: got}
}

func CollectionNotFound(run types.RunID, coll string) *Error {
	ref := types.VectorRef(run, coll, "")
	return &Error{Code: CodeCollectionNotFound, Ref: &ref}
}

func RunNotFound(run types.RunID) *Error {
	return &Error{Code: CodeRunNotFound, Run: run}
}

func Corruption(reason string, err error) *Error {
	return &Error{Code: CodeCorruption, Reason: reason, Err: err}
}

func HistoryTrimmed(ref types.EntityRef, oldestRetained types.Version) *Error {
	return &Error{Code: CodeHistoryTrimmed, Ref: &ref, OldestRetained: oldestRetained}
}

func CapacityExceeded(reason string) *Error {
	return &Error{Code: CodeCapacityExceeded, Reason: reason}
}

func BudgetExceeded(reason string) *Error {
	return &Error{Code: CodeBudgetExceeded, Reason: reason}
}

func Storage(err error) *Error {
	return &Error{Code: CodeStorage, Err: err}
}

func Serialization(err error) *Error {
	return &Error{Code: CodeSerialization, Err: err}
}

func Internal(reason string) *Error {
	return &Error{Code: CodeInternal, Reason: reason}
}

// === Predicados de classificação ===

// CodeOf extrai o código de qualquer erro da taxonomia; 0 se não for.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsRetryable: o chamador pode repetir com snapshot novo.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeVersionConflict, CodeWriteConflict, CodeTransactionAborted:
		return true
	}
	return false
}

// IsSerious: deve ser logado; pode exigir ação do operador.
func IsSerious(err error) bool {
	switch CodeOf(err) {
	case CodeCorruption, CodeInternal:
		return true
	}
	return false
}

// IsNotFound: esperado em sondagens de existência.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeRunNotFound, CodeCollectionNotFound:
		return true
	}
	return false
}

// Is permite errors.Is comparar apenas códigos.
func (e *Error) Is(target error) bool {
	var t *Error
	if stderrors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}
