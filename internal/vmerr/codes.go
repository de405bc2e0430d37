package vmerr

import "fmt"

// StatusCode identifies what went wrong. Values are stable: callers persist
// and compare them, so never renumber.
type StatusCode uint32

const (
	UnknownStatus StatusCode = 0

	// Verification (1xxx): the bytes are not a well-formed module or script.
	Malformed                StatusCode = 1001
	UnknownVersion           StatusCode = 1002
	BadMagic                 StatusCode = 1003
	IndexOutOfBounds         StatusCode = 1004
	DuplicateElement         StatusCode = 1005
	InvalidIdentifier        StatusCode = 1006
	InvalidModuleHandle      StatusCode = 1007
	EmptyCodeUnit            StatusCode = 1008
	InvalidFallThrough       StatusCode = 1009
	BadBranchTarget          StatusCode = 1010
	NegativeStackSize        StatusCode = 1011
	StackMismatchAtJoin      StatusCode = 1012
	VerifyTypeMismatch       StatusCode = 1013
	RetTypeMismatch          StatusCode = 1014
	UnbalancedStack          StatusCode = 1015
	CopyLocWithoutCopy       StatusCode = 1016
	GlobalOpOnForeignStruct  StatusCode = 1017
	GlobalOpWithoutKey       StatusCode = 1018
	NativeWithCode           StatusCode = 1019
	SelfDependency           StatusCode = 1020
	ConstantTypeMismatch     StatusCode = 1021
	InvalidLocal             StatusCode = 1022
	GenericArityMismatch     StatusCode = 1023
	MissingScriptEntry       StatusCode = 1024
	PackWithoutStructAbility StatusCode = 1025
	PopWithoutDrop           StatusCode = 1026
	FieldMissingTypeAbility  StatusCode = 1027
	TypeArgConstraintFailed  StatusCode = 1028
	MissingStructDefinition  StatusCode = 1029

	// Initialization (2xxx): the VM could not be built.
	DuplicateNativeFunction StatusCode = 2001
	InvalidNativeFunction   StatusCode = 2002

	// Load and link (3xxx).
	ModuleNotFound         StatusCode = 3001
	CyclicModuleDependency StatusCode = 3002
	LinkerError            StatusCode = 3003
	LookupFailed           StatusCode = 3004
	LinkTypeMismatch       StatusCode = 3005
	MissingDependency      StatusCode = 3006
	ModuleIDMismatch       StatusCode = 3007
	TypeResolutionFailure  StatusCode = 3008

	// Publishing (4xxx).
	DuplicateModuleName             StatusCode = 4001
	ModuleAddressDoesNotMatchSender StatusCode = 4002
	PublishPermitRequired           StatusCode = 4003
	ModuleIDDoesNotMatch            StatusCode = 4004
	EmptyBundle                     StatusCode = 4005
	DuplicateModuleInBundle         StatusCode = 4006

	// Execution (5xxx).
	FunctionResolutionFailure     StatusCode = 5001
	NumberOfTypeArgumentsMismatch StatusCode = 5002
	ConstraintNotSatisfied        StatusCode = 5003
	NumberOfArgumentsMismatch     StatusCode = 5004
	TypeMismatch                  StatusCode = 5005
	Aborted                       StatusCode = 5006
	ArithmeticError               StatusCode = 5007
	ResourceAlreadyExists         StatusCode = 5008
	MissingData                   StatusCode = 5009
	CallStackOverflow             StatusCode = 5010
	OutOfGas                      StatusCode = 5011
	NativeFunctionError           StatusCode = 5012
	FailedToDeserializeResource   StatusCode = 5013
	StorageError                  StatusCode = 5014
	ValueSerializationError       StatusCode = 5015

	// Invariants and lifecycle misuse (9xxx).
	UnknownInvariantViolation StatusCode = 9001
	SessionFinished           StatusCode = 9002
	VMClosed                  StatusCode = 9003
	PublishPermitHeld         StatusCode = 9004
	SessionsOpen              StatusCode = 9005
	PermitAlreadyBound        StatusCode = 9006
)

var statusNames = map[StatusCode]string{
	UnknownStatus:                   "UNKNOWN_STATUS",
	Malformed:                       "MALFORMED",
	UnknownVersion:                  "UNKNOWN_VERSION",
	BadMagic:                        "BAD_MAGIC",
	IndexOutOfBounds:                "INDEX_OUT_OF_BOUNDS",
	DuplicateElement:                "DUPLICATE_ELEMENT",
	InvalidIdentifier:               "INVALID_IDENTIFIER",
	InvalidModuleHandle:             "INVALID_MODULE_HANDLE",
	EmptyCodeUnit:                   "EMPTY_CODE_UNIT",
	InvalidFallThrough:              "INVALID_FALL_THROUGH",
	BadBranchTarget:                 "BAD_BRANCH_TARGET",
	NegativeStackSize:               "NEGATIVE_STACK_SIZE",
	StackMismatchAtJoin:             "STACK_MISMATCH_AT_JOIN",
	VerifyTypeMismatch:              "VERIFY_TYPE_MISMATCH",
	RetTypeMismatch:                 "RET_TYPE_MISMATCH",
	UnbalancedStack:                 "UNBALANCED_STACK",
	CopyLocWithoutCopy:              "COPYLOC_WITHOUT_COPY_ABILITY",
	GlobalOpOnForeignStruct:         "GLOBAL_OP_ON_FOREIGN_STRUCT",
	GlobalOpWithoutKey:              "GLOBAL_OP_WITHOUT_KEY_ABILITY",
	NativeWithCode:                  "NATIVE_WITH_CODE",
	SelfDependency:                  "SELF_DEPENDENCY",
	ConstantTypeMismatch:            "CONSTANT_TYPE_MISMATCH",
	InvalidLocal:                    "INVALID_LOCAL",
	GenericArityMismatch:            "GENERIC_ARITY_MISMATCH",
	MissingScriptEntry:              "MISSING_SCRIPT_ENTRY",
	PackWithoutStructAbility:        "PACK_ABILITY_VIOLATION",
	PopWithoutDrop:                  "POP_WITHOUT_DROP_ABILITY",
	FieldMissingTypeAbility:         "FIELD_MISSING_TYPE_ABILITY",
	TypeArgConstraintFailed:         "TYPE_ARG_CONSTRAINT_FAILED",
	MissingStructDefinition:         "MISSING_STRUCT_DEFINITION",
	DuplicateNativeFunction:         "DUPLICATE_NATIVE_FUNCTION",
	InvalidNativeFunction:           "INVALID_NATIVE_FUNCTION",
	ModuleNotFound:                  "MODULE_NOT_FOUND",
	CyclicModuleDependency:          "CYCLIC_MODULE_DEPENDENCY",
	LinkerError:                     "LINKER_ERROR",
	LookupFailed:                    "LOOKUP_FAILED",
	LinkTypeMismatch:                "LINK_TYPE_MISMATCH",
	MissingDependency:               "MISSING_DEPENDENCY",
	ModuleIDMismatch:                "MODULE_ID_MISMATCH",
	TypeResolutionFailure:           "TYPE_RESOLUTION_FAILURE",
	DuplicateModuleName:             "DUPLICATE_MODULE_NAME",
	ModuleAddressDoesNotMatchSender: "MODULE_ADDRESS_DOES_NOT_MATCH_SENDER",
	PublishPermitRequired:           "PUBLISH_PERMIT_REQUIRED",
	ModuleIDDoesNotMatch:            "MODULE_ID_DOES_NOT_MATCH",
	EmptyBundle:                     "EMPTY_BUNDLE",
	DuplicateModuleInBundle:         "DUPLICATE_MODULE_IN_BUNDLE",
	FunctionResolutionFailure:       "FUNCTION_RESOLUTION_FAILURE",
	NumberOfTypeArgumentsMismatch:   "NUMBER_OF_TYPE_ARGUMENTS_MISMATCH",
	ConstraintNotSatisfied:          "CONSTRAINT_NOT_SATISFIED",
	NumberOfArgumentsMismatch:       "NUMBER_OF_ARGUMENTS_MISMATCH",
	TypeMismatch:                    "TYPE_MISMATCH",
	Aborted:                         "ABORTED",
	ArithmeticError:                 "ARITHMETIC_ERROR",
	ResourceAlreadyExists:           "RESOURCE_ALREADY_EXISTS",
	MissingData:                     "MISSING_DATA",
	CallStackOverflow:               "CALL_STACK_OVERFLOW",
	OutOfGas:                        "OUT_OF_GAS",
	NativeFunctionError:             "NATIVE_FUNCTION_ERROR",
	FailedToDeserializeResource:     "FAILED_TO_DESERIALIZE_RESOURCE",
	StorageError:                    "STORAGE_ERROR",
	ValueSerializationError:         "VALUE_SERIALIZATION_ERROR",
	UnknownInvariantViolation:       "UNKNOWN_INVARIANT_VIOLATION",
	SessionFinished:                 "SESSION_FINISHED",
	VMClosed:                        "VM_CLOSED",
	PublishPermitHeld:               "PUBLISH_PERMIT_HELD",
	SessionsOpen:                    "SESSIONS_OPEN",
	PermitAlreadyBound:              "PERMIT_ALREADY_BOUND",
}

// Name returns the upper-case symbolic name ("MODULE_NOT_FOUND").
func (c StatusCode) Name() string {
	if n, ok := statusNames[c]; ok {
		return n
	}
	return fmt.Sprintf("STATUS_%d", uint32(c))
}

// String returns "MODULE_NOT_FOUND(3001)".
func (c StatusCode) String() string {
	return fmt.Sprintf("%s(%d)", c.Name(), uint32(c))
}

// StatusType groups codes by the stage that produces them.
type StatusType uint8

const (
	TypeUnknown StatusType = iota
	TypeVerification
	TypeInit
	TypeLoad
	TypePublish
	TypeExecution
	TypeInvariant
)

func (t StatusType) String() string {
	switch t {
	case TypeVerification:
		return "verification"
	case TypeInit:
		return "init"
	case TypeLoad:
		return "load"
	case TypePublish:
		return "publish"
	case TypeExecution:
		return "execution"
	case TypeInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Type classifies the code by its thousands range.
func (c StatusCode) Type() StatusType {
	switch c / 1000 {
	case 1:
		return TypeVerification
	case 2:
		return TypeInit
	case 3:
		return TypeLoad
	case 4:
		return TypePublish
	case 5:
		return TypeExecution
	case 9:
		return TypeInvariant
	default:
		return TypeUnknown
	}
}
