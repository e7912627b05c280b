package constants

// Application constants
const (
	Name        = "autoschedule-go"
	Version     = "1.0.0"
	Description = "evolutionary auto-scheduling search core for a tensor-program compiler"

	// Default search configuration values
	DefaultInitPopulationNum     = 64
	DefaultPickDatabaseTopK      = 16
	DefaultCrossOverNum          = 16
	DefaultNumSamplesPerIter     = 32
	DefaultEpsGreedy             = 0.2
	DefaultNumWorkers            = 4
	DefaultRandomSeed     uint64 = 1

	// Database defaults
	DefaultTopKPerTask        = 8
	DefaultCheckpointInterval = 100

	// Directory names
	OutputDir     = "autoschedule_output"
	DatabaseDir   = "database"
	CheckpointDir = "checkpoints"

	// Exit codes
	ExitSuccess   = 0
	ExitError     = 1
	ExitInterrupt = 2
)

// TraceVersion is the current on-disk encoding version for a ScheduleTrace.
// Bump whenever the record wire-format changes; Deserialize rejects
// unknown versions, and warm-start loading drops such a record with a
// warning rather than failing the whole round.
const TraceVersion byte = 1

// DatabaseLogVersion is the current on-disk encoding version for one
// append-only Database log record. Load() skips unknown versions with a
// warning rather than failing the whole log.
const DatabaseLogVersion byte = 1

// Opcode identifies the loop transformation a TransformationRecord applies.
type Opcode string

// The closed set of loop transformations a trace may record.
const (
	OpSplit         Opcode = "split"
	OpReorder       Opcode = "reorder"
	OpFuse          Opcode = "fuse"
	OpTile          Opcode = "tile"
	OpBind          Opcode = "bind"
	OpUnroll        Opcode = "unroll"
	OpVectorize     Opcode = "vectorize"
	OpCacheRead     Opcode = "cache_read"
	OpCacheWrite    Opcode = "cache_write"
	OpComputeAt     Opcode = "compute_at"
	OpComputeInline Opcode = "compute_inline"
	OpRFactor       Opcode = "rfactor"
	OpParallel      Opcode = "parallel"
	OpStorageAlign  Opcode = "storage_align"
	OpPragma        Opcode = "pragma"
)

// MeasuredCostSentinel marks a DatabaseRecord with no measured cost yet.
const MeasuredCostSentinel = -1.0
