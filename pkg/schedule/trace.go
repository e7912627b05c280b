// Package schedule implements ScheduleTrace and SearchState: the canonical,
// replayable identity of a schedule and the (schedule, predicted cost) pair
// an EvolutionarySearch round carries around.
package schedule

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cinnlang/autoschedule-go/internal/constants"
	"github.com/cinnlang/autoschedule-go/internal/types"
	"github.com/cinnlang/autoschedule-go/pkg/ir"
	"github.com/pkg/errors"
)

// ErrReplayFailure is returned when a trace no longer replays cleanly
// against a seed arena, typically because the IR schema changed since the
// trace was recorded.
var ErrReplayFailure = errors.New("schedule: trace replay failed")

// ScheduleTrace is an append-only, value-typed record of applied IR
// transformations, immutable after construction: mutations and crossovers
// yield new traces, never in-place edits.
type ScheduleTrace struct {
	records []types.TransformationRecord
}

// NewTrace returns an empty trace.
func NewTrace() *ScheduleTrace {
	return &ScheduleTrace{}
}

// FromRecords builds a trace from an existing record slice, copying it so
// the trace owns its own backing array.
func FromRecords(records []types.TransformationRecord) *ScheduleTrace {
	out := make([]types.TransformationRecord, len(records))
	copy(out, records)
	return &ScheduleTrace{records: out}
}

// Records returns a defensive copy of the trace's records.
func (t *ScheduleTrace) Records() []types.TransformationRecord {
	out := make([]types.TransformationRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Size returns the number of records in the trace.
func (t *ScheduleTrace) Size() int { return len(t.records) }

// RecordAt returns the record at index i.
func (t *ScheduleTrace) RecordAt(i int) (types.TransformationRecord, error) {
	if i < 0 || i >= len(t.records) {
		return types.TransformationRecord{}, errors.Errorf("schedule: record index %d out of range", i)
	}
	return t.records[i], nil
}

// Append returns a new trace with rec appended; the receiver is untouched.
func (t *ScheduleTrace) Append(rec types.TransformationRecord) *ScheduleTrace {
	out := make([]types.TransformationRecord, len(t.records)+1)
	copy(out, t.records)
	out[len(t.records)] = rec
	return &ScheduleTrace{records: out}
}

// Truncate returns a new trace containing only the first i records.
func (t *ScheduleTrace) Truncate(i int) *ScheduleTrace {
	if i < 0 {
		i = 0
	}
	if i > len(t.records) {
		i = len(t.records)
	}
	out := make([]types.TransformationRecord, i)
	copy(out, t.records[:i])
	return &ScheduleTrace{records: out}
}

// Clone returns an independent copy of the trace.
func (t *ScheduleTrace) Clone() *ScheduleTrace {
	out := make([]types.TransformationRecord, len(t.records))
	copy(out, t.records)
	return &ScheduleTrace{records: out}
}

// Replay deep-copies seed and applies every record in order, returning the
// resulting arena. Replaying the same trace against the same seed always
// yields a bit-identical arena, since the underlying transformation
// primitives are themselves deterministic.
func (t *ScheduleTrace) Replay(seed ir.Arena) (ir.Arena, error) {
	a := seed.DeepCopy()
	for i, rec := range t.records {
		if err := applyRecord(a, rec); err != nil {
			return nil, fmt.Errorf("record %d (%s): %w: %w", i, rec.Opcode, err, ErrReplayFailure)
		}
	}
	return a, nil
}

// Serialize encodes the trace as a version byte, a 4-byte big-endian length
// prefix, and a JSON body.
func (t *ScheduleTrace) Serialize() ([]byte, error) {
	body, err := json.Marshal(t.records)
	if err != nil {
		return nil, errors.Wrap(err, "schedule: marshal trace")
	}
	buf := make([]byte, 0, 5+len(body))
	buf = append(buf, constants.TraceVersion)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, body...)
	return buf, nil
}

// Deserialize decodes a trace encoded by Serialize. Unknown version bytes
// are rejected rather than silently misread; callers persisting a log of
// many records skip unknown-version entries with a warning instead.
func Deserialize(data []byte) (*ScheduleTrace, error) {
	if len(data) < 5 {
		return nil, errors.New("schedule: truncated trace header")
	}
	version := data[0]
	if version != constants.TraceVersion {
		return nil, errors.Errorf("schedule: unsupported trace version %d", version)
	}
	n := binary.BigEndian.Uint32(data[1:5])
	if uint32(len(data)-5) < n {
		return nil, errors.New("schedule: truncated trace body")
	}
	var records []types.TransformationRecord
	if err := json.Unmarshal(data[5:5+n], &records); err != nil {
		return nil, errors.Wrap(err, "schedule: unmarshal trace")
	}
	return &ScheduleTrace{records: records}, nil
}

func applyRecord(a ir.Arena, rec types.TransformationRecord) error {
	ops := rec.Operands
	switch rec.Opcode {
	case constants.OpSplit:
		if len(ops) != 2 {
			return errMalformed(rec)
		}
		_, _, err := a.Split(ops[0].StringValue, ops[1].IntValue)
		return err
	case constants.OpFuse:
		if len(ops) != 2 {
			return errMalformed(rec)
		}
		_, err := a.Fuse(ops[0].StringValue, ops[1].StringValue)
		return err
	case constants.OpReorder:
		handles := make([]string, len(ops))
		for i, o := range ops {
			handles[i] = o.StringValue
		}
		return a.Reorder(handles)
	case constants.OpTile:
		if len(ops)%2 != 0 {
			return errMalformed(rec)
		}
		n := len(ops) / 2
		handles := make([]string, n)
		factors := make([]int, n)
		for i := 0; i < n; i++ {
			handles[i] = ops[i].StringValue
			factors[i] = ops[n+i].IntValue
		}
		_, err := a.Tile(handles, factors)
		return err
	case constants.OpBind:
		if len(ops) != 2 {
			return errMalformed(rec)
		}
		return a.Bind(ops[0].StringValue, ops[1].StringValue)
	case constants.OpUnroll:
		if len(ops) != 2 {
			return errMalformed(rec)
		}
		return a.Unroll(ops[0].StringValue, ops[1].IntValue)
	case constants.OpVectorize:
		if len(ops) != 1 {
			return errMalformed(rec)
		}
		return a.Vectorize(ops[0].StringValue)
	case constants.OpCacheRead:
		if len(ops) != 2 {
			return errMalformed(rec)
		}
		_, err := a.CacheRead(ops[0].StringValue, ops[1].StringValue)
		return err
	case constants.OpCacheWrite:
		if len(ops) != 2 {
			return errMalformed(rec)
		}
		_, err := a.CacheWrite(ops[0].StringValue, ops[1].StringValue)
		return err
	case constants.OpComputeAt:
		if len(ops) != 2 {
			return errMalformed(rec)
		}
		return a.ComputeAt(ops[0].StringValue, ops[1].StringValue)
	case constants.OpComputeInline:
		if len(ops) != 1 {
			return errMalformed(rec)
		}
		return a.ComputeInline(ops[0].StringValue)
	case constants.OpRFactor:
		if len(ops) != 2 {
			return errMalformed(rec)
		}
		_, err := a.RFactor(ops[0].StringValue, ops[1].IntValue)
		return err
	case constants.OpParallel:
		if len(ops) != 1 {
			return errMalformed(rec)
		}
		return a.Parallel(ops[0].StringValue)
	case constants.OpStorageAlign:
		if len(ops) != 2 {
			return errMalformed(rec)
		}
		return a.StorageAlign(ops[0].StringValue, ops[1].IntValue)
	case constants.OpPragma:
		if len(ops) != 3 {
			return errMalformed(rec)
		}
		return a.Pragma(ops[0].StringValue, ops[1].StringValue, ops[2].StringValue)
	default:
		return errors.Errorf("schedule: unknown opcode %q", rec.Opcode)
	}
}

func errMalformed(rec types.TransformationRecord) error {
	return errors.Errorf("schedule: malformed operands for opcode %q", rec.Opcode)
}

// Record constructors used by pkg/sketch and pkg/mutate when they append to
// a trace after applying a transformation live against a working arena.

func SplitRecord(loopHandle string, factor int, outer, inner string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:        constants.OpSplit,
		Operands:      []types.Operand{types.HandleOperand(loopHandle), types.IntOperand(factor)},
		ResultHandles: []string{outer, inner},
	}
}

func FuseRecord(outerHandle, innerHandle, fused string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:        constants.OpFuse,
		Operands:      []types.Operand{types.HandleOperand(outerHandle), types.HandleOperand(innerHandle)},
		ResultHandles: []string{fused},
	}
}

func ReorderRecord(handles []string) types.TransformationRecord {
	ops := make([]types.Operand, len(handles))
	for i, h := range handles {
		ops[i] = types.HandleOperand(h)
	}
	return types.TransformationRecord{Opcode: constants.OpReorder, Operands: ops}
}

func TileRecord(handles []string, factors []int, results []string) types.TransformationRecord {
	ops := make([]types.Operand, 0, len(handles)+len(factors))
	for _, h := range handles {
		ops = append(ops, types.HandleOperand(h))
	}
	for _, f := range factors {
		ops = append(ops, types.IntOperand(f))
	}
	return types.TransformationRecord{Opcode: constants.OpTile, Operands: ops, ResultHandles: results}
}

func BindRecord(loopHandle, axis string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:   constants.OpBind,
		Operands: []types.Operand{types.HandleOperand(loopHandle), types.StringOperand(axis)},
	}
}

func UnrollRecord(loopHandle string, factor int) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:   constants.OpUnroll,
		Operands: []types.Operand{types.HandleOperand(loopHandle), types.IntOperand(factor)},
	}
}

func VectorizeRecord(loopHandle string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:   constants.OpVectorize,
		Operands: []types.Operand{types.HandleOperand(loopHandle)},
	}
}

func CacheReadRecord(blockHandle, scope, result string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:        constants.OpCacheRead,
		Operands:      []types.Operand{types.HandleOperand(blockHandle), types.StringOperand(scope)},
		ResultHandles: []string{result},
	}
}

func CacheWriteRecord(blockHandle, scope, result string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:        constants.OpCacheWrite,
		Operands:      []types.Operand{types.HandleOperand(blockHandle), types.StringOperand(scope)},
		ResultHandles: []string{result},
	}
}

func ComputeAtRecord(blockHandle, loopHandle string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:   constants.OpComputeAt,
		Operands: []types.Operand{types.HandleOperand(blockHandle), types.HandleOperand(loopHandle)},
	}
}

func ComputeInlineRecord(blockHandle string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:   constants.OpComputeInline,
		Operands: []types.Operand{types.HandleOperand(blockHandle)},
	}
}

func RFactorRecord(loopHandle string, factorAxis int, result string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:        constants.OpRFactor,
		Operands:      []types.Operand{types.HandleOperand(loopHandle), types.IntOperand(factorAxis)},
		ResultHandles: []string{result},
	}
}

func ParallelRecord(loopHandle string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:   constants.OpParallel,
		Operands: []types.Operand{types.HandleOperand(loopHandle)},
	}
}

func StorageAlignRecord(blockHandle string, factor int) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:   constants.OpStorageAlign,
		Operands: []types.Operand{types.HandleOperand(blockHandle), types.IntOperand(factor)},
	}
}

func PragmaRecord(loopHandle, key, value string) types.TransformationRecord {
	return types.TransformationRecord{
		Opcode:   constants.OpPragma,
		Operands: []types.Operand{types.HandleOperand(loopHandle), types.StringOperand(key), types.StringOperand(value)},
	}
}
