package shape

import "errors"

var (
	// ErrNonFinite is returned by Ingest for NaN or infinite samples.
	ErrNonFinite = errors.New("shape: non-finite sample")

	// ErrCheckpointInconsistent reports a checkpoint index that no longer
	// exists in the retained window. It indicates a retention bug.
	ErrCheckpointInconsistent = errors.New("shape: checkpoint references trimmed index")

	// ErrInvalidConfig wraps every Config.Validate failure.
	ErrInvalidConfig = errors.New("shape: invalid config")
)
