// Package arborerr enumerates the error kinds a caller of this module may
// need to distinguish with errors.Is. Every kind named in the interface
// contract has a sentinel here; call sites wrap it with context via
// fmt.Errorf("...: %w", ...).
package arborerr

import "errors"

var (
	// ErrDataFileMissing means a required path (the primary file or a
	// companion file: parameter file, scale-factor list, mtree file,
	// shard) does not exist.
	ErrDataFileMissing = errors.New("data file missing")

	// ErrBackendAmbiguous means more than one registered backend's probe
	// accepted a path.
	ErrBackendAmbiguous = errors.New("ambiguous backend: more than one backend accepts this path")

	// ErrBackendUnknown means no registered backend's probe accepted a
	// path.
	ErrBackendUnknown = errors.New("unknown backend: no backend accepts this path")

	// ErrHeaderMalformed means a required header attribute, column, or
	// marker is missing or unparseable.
	ErrHeaderMalformed = errors.New("malformed header")

	// ErrUnitParse means a declared unit string could not be interpreted.
	ErrUnitParse = errors.New("unit could not be parsed")

	// ErrFieldAlreadyExists means a field name is already registered and
	// force_add was not given.
	ErrFieldAlreadyExists = errors.New("field already exists")

	// ErrFieldNotFound means a requested field name has no descriptor.
	ErrFieldNotFound = errors.New("field not found")

	// ErrFieldCircularDependency means a derived field's dependency chain
	// loops back on itself.
	ErrFieldCircularDependency = errors.New("circular field dependency")

	// ErrFieldDependencyNotFound means a derived field's function
	// requested a field name with no descriptor.
	ErrFieldDependencyNotFound = errors.New("field dependency not found")

	// ErrFieldAnalysisNotGenerated means an analysis field was requested
	// for generation but has not been materialized and has no default.
	ErrFieldAnalysisNotGenerated = errors.New("analysis field not yet generated")

	// ErrFieldUnsettable means a caller tried to assign to a field that
	// is not of kind analysis or analysis_saved.
	ErrFieldUnsettable = errors.New("field is not settable")

	// ErrSelectionScopeMismatch means a predicate's result length
	// disagreed with the chosen traversal scope's length.
	ErrSelectionScopeMismatch = errors.New("selection predicate result length does not match scope")

	// ErrWriteFailed means an I/O error during save left the save target
	// unusable; the header file is not written when this occurs.
	ErrWriteFailed = errors.New("write failed")

	// ErrDatasetEmpty means the source described zero trees. This is
	// non-fatal: callers get back a zero-size Arbor instead of this
	// error propagating from Load.
	ErrDatasetEmpty = errors.New("dataset is empty")
)
