// Package database implements the record store: a key-value store mapping
// a task key to its ordered top-K DatabaseRecord set, persisted as a
// log-structured append-only file and folded back into memory on Load.
package database

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cinnlang/autoschedule-go/internal/constants"
	"github.com/cinnlang/autoschedule-go/internal/types"
	"github.com/cinnlang/autoschedule-go/pkg/boundedset"
)

const logHeaderSize = 5 // 1 version byte + 4-byte big-endian body length

// Store is the record-store boundary EvolutionarySearch depends on.
type Store interface {
	Insert(rec types.DatabaseRecord)
	GetTopK(taskKey string, k int) []types.DatabaseRecord
	Flush() error
	Load() error
}

// FileStore is a Store backed by a single append-only log file. It is the
// only object shared across tasks, so all state sits behind a single
// RWMutex; external synchronization is required only across Stores sharing
// the same file.
type FileStore struct {
	mu          sync.RWMutex
	logPath     string
	topKPerTask int

	// records is the canonical (task_key -> trace_fingerprint -> record)
	// map: inserting the same (task_key, trace_fingerprint) pair twice
	// always supersedes the earlier entry, whether the second Insert
	// happens live or is folded in from an older log line during Load.
	records map[string]map[string]types.DatabaseRecord

	// topK is a derived cache rebuilt from records on every mutation, so
	// GetTopK never has to rescan the full record set.
	topK map[string]*boundedset.BoundedBestSet[types.DatabaseRecord]

	// pending holds records inserted since the last Flush; Flush appends
	// exactly these to the log file and then clears it.
	pending []types.DatabaseRecord

	// nextSeq stamps DatabaseRecord.Seq on every Insert, giving
	// rebuildTopKLocked a true historical insertion order to push records
	// in rather than Go's randomized map iteration order. Load() resumes
	// it past the highest Seq found in the log.
	nextSeq int64

	logger *logrus.Logger
}

// New builds a FileStore over logPath, retaining at most topKPerTask
// records per task key.
func New(logPath string, topKPerTask int) *FileStore {
	return &FileStore{
		logPath:     logPath,
		topKPerTask: topKPerTask,
		records:     make(map[string]map[string]types.DatabaseRecord),
		topK:        make(map[string]*boundedset.BoundedBestSet[types.DatabaseRecord]),
		logger:      logrus.New(),
	}
}

// Insert records rec under its task key, superseding any earlier record
// for the same (task_key, trace_fingerprint) pair, and queues it for the
// next Flush. A record with no ID is stamped with a fresh one.
func (s *FileStore) Insert(rec types.DatabaseRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Seq = s.nextSeq
	s.nextSeq++
	s.foldLocked(rec)
	s.rebuildTopKLocked(rec.TaskKey)
	s.pending = append(s.pending, rec)
}

// GetTopK returns up to k records for taskKey in ascending-cost order. It
// never returns more than topKPerTask records regardless of k, since that
// is all the store retains.
func (s *FileStore) GetTopK(taskKey string, k int) []types.DatabaseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.topK[taskKey]
	if !ok || k <= 0 {
		return nil
	}
	all := set.Ascending()
	if k < len(all) {
		all = all[:k]
	}
	return all
}

// Flush appends every record inserted since the last Flush to the log
// file and clears the pending queue. An I/O error is surfaced to the
// caller, and the pending queue is kept so the next Flush retries.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "database: open log for flush")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range s.pending {
		if err := writeLogRecord(w, rec); err != nil {
			return errors.Wrap(err, "database: write log record")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "database: flush log writer")
	}

	s.pending = s.pending[:0]
	return nil
}

// Load folds the log file into memory from scratch, later entries
// superseding earlier ones on (task_key, trace_fingerprint) collisions. A
// missing log file is not an error: it means nothing has been persisted
// yet. Unknown version bytes and malformed bodies are skipped with a
// warning rather than failing the whole load.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "database: open log for load")
	}
	defer f.Close()

	s.records = make(map[string]map[string]types.DatabaseRecord)

	r := bufio.NewReader(f)
	for {
		rec, ok, err := readLogRecord(r, s.logger)
		if err != nil {
			return errors.Wrap(err, "database: read log")
		}
		if !ok {
			break
		}
		s.foldLocked(rec)
	}

	s.nextSeq = 0
	for _, byFingerprint := range s.records {
		for _, rec := range byFingerprint {
			if rec.Seq >= s.nextSeq {
				s.nextSeq = rec.Seq + 1
			}
		}
	}

	s.topK = make(map[string]*boundedset.BoundedBestSet[types.DatabaseRecord])
	for taskKey := range s.records {
		s.rebuildTopKLocked(taskKey)
	}
	return nil
}

func (s *FileStore) foldLocked(rec types.DatabaseRecord) {
	byFingerprint, ok := s.records[rec.TaskKey]
	if !ok {
		byFingerprint = make(map[string]types.DatabaseRecord)
		s.records[rec.TaskKey] = byFingerprint
	}
	byFingerprint[traceFingerprint(rec)] = rec
}

// rebuildTopKLocked rebuilds the top-K set for taskKey from records,
// pushing in true historical insertion order (by Seq) rather than the
// randomized order s.records[taskKey] (a Go map) iterates in, so
// BoundedBestSet's stable tie-break reflects real history instead of map
// iteration order.
func (s *FileStore) rebuildTopKLocked(taskKey string) {
	byFingerprint := s.records[taskKey]
	ordered := make([]types.DatabaseRecord, 0, len(byFingerprint))
	for _, rec := range byFingerprint {
		ordered = append(ordered, rec)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	set := boundedset.New[types.DatabaseRecord](s.topKPerTask)
	for _, rec := range ordered {
		set.Push(rec, rec.SortCost())
	}
	s.topK[taskKey] = set
}

// traceFingerprint hashes a record's trace bytes so two records for the
// same task with structurally identical traces collide and supersede,
// even across process restarts where only the log file survives.
func traceFingerprint(rec types.DatabaseRecord) string {
	sum := sha256.Sum256(rec.TraceBytes)
	return hex.EncodeToString(sum[:16])
}

func writeLogRecord(w io.Writer, rec types.DatabaseRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	header := make([]byte, logHeaderSize)
	header[0] = constants.DatabaseLogVersion
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// readLogRecord reads one (header, body) pair. ok is false at a clean EOF
// between records; err is non-nil only for a genuine I/O or truncation
// failure.
func readLogRecord(r io.Reader, logger *logrus.Logger) (types.DatabaseRecord, bool, error) {
	header := make([]byte, logHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return types.DatabaseRecord{}, false, nil
		}
		return types.DatabaseRecord{}, false, err
	}

	version := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return types.DatabaseRecord{}, false, err
	}

	if version != constants.DatabaseLogVersion {
		logger.WithField("version", version).Warn("database: skipping log record with unknown version")
		return readLogRecord(r, logger)
	}

	var rec types.DatabaseRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		logger.WithError(err).Warn("database: skipping malformed log record")
		return readLogRecord(r, logger)
	}
	return rec, true, nil
}
