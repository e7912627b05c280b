// Package costmodel declares the CostModel boundary and a worker-pool
// batch predictor, so a round's candidate set can be scored concurrently
// while CostModel.Predict itself stays a simple synchronous call.
package costmodel

import (
	"context"
	"math"
	"sync"

	"github.com/cinnlang/autoschedule-go/pkg/ir"
	"github.com/sirupsen/logrus"
)

// CostModel maps a scheduled IR to a scalar predicted cost. It is the
// search core's sole external collaborator for scoring; the core never
// learns or adapts this function itself.
type CostModel interface {
	Predict(ctx context.Context, a ir.Arena) (float64, error)
}

type job struct {
	index      int
	ctx        context.Context
	arena      ir.Arena
	resultChan chan<- predictionResult
}

type predictionResult struct {
	index int
	cost  float64
}

// BatchPredictor parallelizes CostModel.Predict over a fixed pool of
// persistent worker goroutines.
type BatchPredictor struct {
	model      CostModel
	maxWorkers int
	logger     *logrus.Logger

	jobs chan job
	wg   sync.WaitGroup
}

// NewBatchPredictor wraps model with a pool of maxWorkers workers.
func NewBatchPredictor(model CostModel, maxWorkers int) *BatchPredictor {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	bp := &BatchPredictor{
		model:      model,
		maxWorkers: maxWorkers,
		logger:     logrus.New(),
		jobs:       make(chan job, maxWorkers*2),
	}
	bp.start()
	return bp
}

func (bp *BatchPredictor) start() {
	for i := 0; i < bp.maxWorkers; i++ {
		bp.wg.Add(1)
		go bp.worker()
	}
}

func (bp *BatchPredictor) worker() {
	defer bp.wg.Done()
	for j := range bp.jobs {
		cost, err := bp.model.Predict(j.ctx, j.arena)
		if err != nil {
			bp.logger.WithError(err).WithField("candidate", j.index).Warn("cost model prediction failed")
			cost = math.Inf(1)
		}
		j.resultChan <- predictionResult{index: j.index, cost: cost}
	}
}

// Stop drains and shuts down the worker pool. The predictor cannot be used
// again after Stop returns.
func (bp *BatchPredictor) Stop() {
	close(bp.jobs)
	bp.wg.Wait()
}

// PredictBatch scores every arena and returns costs in input order. A
// prediction failure never aborts the batch: that candidate's cost becomes
// +Inf, so BoundedBestSet evicts it naturally instead of the round
// failing.
func (bp *BatchPredictor) PredictBatch(ctx context.Context, arenas []ir.Arena) []float64 {
	costs := make([]float64, len(arenas))
	resultChan := make(chan predictionResult, len(arenas))

	for i, a := range arenas {
		bp.jobs <- job{index: i, ctx: ctx, arena: a, resultChan: resultChan}
	}
	for range arenas {
		r := <-resultChan
		costs[r.index] = r.cost
	}
	return costs
}

// StubCostModel is a deterministic CostModel with no external call site,
// useful for tests and for exercising the search core in isolation: it
// scores an arena by its live node count.
type StubCostModel struct{}

func (StubCostModel) Predict(_ context.Context, a ir.Arena) (float64, error) {
	return float64(a.NodeCount()), nil
}

// ConstantCostModel always predicts the same cost, useful for tests that
// need a cost model indifferent to IR shape.
type ConstantCostModel struct {
	Cost float64
}

func (c ConstantCostModel) Predict(_ context.Context, _ ir.Arena) (float64, error) {
	return c.Cost, nil
}
