package types

import (
	"sync"
	"time"

	"github.com/cinnlang/autoschedule-go/internal/constants"
	"github.com/cinnlang/autoschedule-go/pkg/ir"
)

// OperandKind distinguishes the kinds of values a TransformationRecord's
// operands can carry: integers, strings, and IR block/loop handles.
type OperandKind int

const (
	OperandInt OperandKind = iota
	OperandString
	OperandHandle
)

// Operand is one typed value attached to a TransformationRecord.
type Operand struct {
	Kind        OperandKind `json:"kind"`
	IntValue    int         `json:"int_value,omitempty"`
	StringValue string      `json:"string_value,omitempty"`
}

// IntOperand builds an integer operand.
func IntOperand(v int) Operand { return Operand{Kind: OperandInt, IntValue: v} }

// StringOperand builds a string operand.
func StringOperand(v string) Operand { return Operand{Kind: OperandString, StringValue: v} }

// HandleOperand builds an IR handle operand.
func HandleOperand(v string) Operand { return Operand{Kind: OperandHandle, StringValue: v} }

// TransformationRecord is one entry of a ScheduleTrace: an opcode, its
// typed operands, and any new handles the transformation produced.
type TransformationRecord struct {
	Opcode        constants.Opcode `json:"opcode"`
	Operands      []Operand        `json:"operands"`
	ResultHandles []string         `json:"result_handles,omitempty"`
}

// TuneTask is a stable (task-key, seed IR) pair identifying one
// optimization problem. Seed is a handle to the task's seed lowered IR, so
// a TuneTask is self-sufficient; callers look it up once through a
// TaskRegistry rather than threading the seed arena as a separate
// parameter through every search call.
type TuneTask struct {
	Key  string   `json:"key"`
	Seed ir.Arena `json:"-"`
}

// TaskRegistry maps task keys to their seed lowered IR. It is an explicit,
// injectable object rather than process-wide global state: callers hold
// one instance per run and pass it down.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]ir.Arena
}

// NewTaskRegistry builds an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]ir.Arena)}
}

// Register binds key to its seed lowered IR, overwriting any earlier
// binding for the same key, and returns the resulting TuneTask handle.
func (r *TaskRegistry) Register(key string, seed ir.Arena) TuneTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[key] = seed
	return TuneTask{Key: key, Seed: seed}
}

// Lookup returns the TuneTask previously registered under key, and false
// if key was never registered.
func (r *TaskRegistry) Lookup(key string) (TuneTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seed, ok := r.tasks[key]
	if !ok {
		return TuneTask{}, false
	}
	return TuneTask{Key: key, Seed: seed}, true
}

// DatabaseRecord is the persisted unit of the Database: a trace plus its
// predicted and (optionally) measured cost.
type DatabaseRecord struct {
	// ID uniquely identifies this record independent of its task key and
	// trace fingerprint, stamped by FileStore.Insert if empty.
	ID            string  `json:"id"`
	TaskKey       string  `json:"task_key"`
	TraceBytes    []byte  `json:"trace_bytes"`
	PredictedCost float64 `json:"predicted_cost"`
	MeasuredCost  float64 `json:"measured_cost"`
	// Seq is the store's monotonic insertion sequence, stamped by
	// FileStore.Insert. It is persisted so the stable cost tie-break
	// order survives a Load from a fresh process, where map iteration
	// order can't be trusted to reflect history.
	Seq int64 `json:"seq"`
}

// HasMeasuredCost reports whether MeasuredCost is a real measurement
// rather than the sentinel used in the persisted log format.
func (r DatabaseRecord) HasMeasuredCost() bool {
	return r.MeasuredCost != constants.MeasuredCostSentinel
}

// SortCost returns the cost a Database orders records by: measured cost
// when available, otherwise predicted cost.
func (r DatabaseRecord) SortCost() float64 {
	if r.HasMeasuredCost() {
		return r.MeasuredCost
	}
	return r.PredictedCost
}

// Config is the root configuration schema for the search core.
type Config struct {
	Database     DatabaseConfig     `yaml:"database" json:"database"`
	Evolutionary EvolutionaryConfig `yaml:"evolutionary" json:"evolutionary"`
	SearchSpace  SearchSpaceConfig  `yaml:"search_space" json:"search_space"`
	Seed         uint64             `yaml:"seed" json:"seed"`
	OutputDir    string             `yaml:"output_dir" json:"output_dir"`
	Verbose      bool               `yaml:"verbose" json:"verbose"`
}

// DatabaseConfig configures the persisted top-K record store.
type DatabaseConfig struct {
	TopKPerTask        int    `yaml:"top_k_per_task" json:"top_k_per_task"`
	LogPath            string `yaml:"log_path" json:"log_path"`
	CheckpointInterval int    `yaml:"checkpoint_interval" json:"checkpoint_interval"`
}

// EvolutionaryConfig configures one EvolutionarySearch round.
type EvolutionaryConfig struct {
	InitPopulationNum      int     `yaml:"init_population_num" json:"init_population_num"`
	PickDatabaseTopK       int     `yaml:"pick_database_topk" json:"pick_database_topk"`
	CrossOverNum           int     `yaml:"cross_over_num" json:"cross_over_num"`
	NumSamplesPerIteration int     `yaml:"num_samples_per_iteration" json:"num_samples_per_iteration"`
	EpsGreedy              float64 `yaml:"eps_greedy" json:"eps_greedy"`
	// CrossoverUniform switches the crossover die from the legacy 1:2
	// father:mother ratio (the default) to a true uniform 50/50 draw.
	CrossoverUniform bool `yaml:"crossover_uniform" json:"crossover_uniform"`
	// NumWorkers sizes the BatchPredictor pool EvolutionarySearch scores a
	// round's candidates with. Zero selects a small default.
	NumWorkers int `yaml:"num_workers" json:"num_workers"`
}

// SearchSpaceConfig configures sketch generation bounds.
type SearchSpaceConfig struct {
	MaxSketchSteps int `yaml:"max_sketch_steps" json:"max_sketch_steps"`
}

// EvolutionStats tracks statistics about the search process.
type EvolutionStats struct {
	TotalRounds      int64         `json:"total_rounds"`
	TotalCandidates  int64         `json:"total_candidates"`
	DeduplicatedHits int64         `json:"deduplicated_hits"`
	BestCost         float64       `json:"best_cost"`
	Duration         time.Duration `json:"duration"`
	StartTime        time.Time     `json:"start_time"`
	LastUpdate       time.Time     `json:"last_update"`
}
