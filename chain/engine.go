package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/finalityberry/model"
	"github.com/blockberries/finalityberry/privval"
	"github.com/blockberries/finalityberry/wal"
)

// tickInterval is how often the background loop re-evaluates the
// orchestrator's timeouts and polls for newly entered stages.
const tickInterval = 100 * time.Millisecond

// Engine is the top-level finalization component. It owns the
// Orchestrator and the MultiStepAggregator for the current finalization
// point, and is the collaborator responsible for advancing the
// aggregator's acceptance floor once a point is actually finalized —
// the multi-step aggregator itself has no notion of "this point is
// done", it only counts votes for whatever point it is told to accept.
type Engine struct {
	mu sync.RWMutex

	config       FinalizationConfiguration
	proofStorage ProofStorage
	blockStorage BlockStorageView
	accountState AccountStateView
	subscriber   FinalizationSubscriber
	wal          wal.WAL
	log          *zap.Logger

	orchestrator *Orchestrator
	aggregator   *MultiStepAggregator

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine wires an Orchestrator and a MultiStepAggregator together,
// loading the acceptance floor from proofStorage's last finalized
// point. The returned engine is not yet running; call Start.
func NewEngine(
	config FinalizationConfiguration,
	proofStorage ProofStorage,
	blockStorage BlockStorageView,
	accountState AccountStateView,
	processor MessageProcessor,
	heightHashesPairSupplier HeightHashesPairSupplier,
	messageSink MessageSink,
	subscriber FinalizationSubscriber,
	writeAheadLog wal.WAL,
	log *zap.Logger,
) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if writeAheadLog == nil {
		writeAheadLog = &wal.NopWAL{}
	}

	lastFinalized, err := proofStorage.FinalizationPoint()
	if err != nil {
		return nil, fmt.Errorf("reading last finalized point: %w", err)
	}

	e := &Engine{
		config:       config,
		proofStorage: proofStorage,
		blockStorage: blockStorage,
		accountState: accountState,
		subscriber:   subscriber,
		wal:          writeAheadLog,
		log:          log,
	}

	e.orchestrator = NewOrchestrator(config, heightHashesPairSupplier, messageSink, log)
	contextFactory := BuildContextFactory(proofStorage, blockStorage, accountState, config)
	consensusSink := e.orchestrator.CreateConsensusSink(e.onPointFinalized)
	e.aggregator = NewMultiStepAggregator(
		config.MessageSynchronizationMaxResponseSize,
		processor,
		e.orchestrator.CreateSingleStepAggregatorFactory(),
		contextFactory,
		consensusSink,
		lastFinalized+1,
		log,
	)

	return e, nil
}

// onPointFinalized is the PointConsensusSink passed to the orchestrator.
// It only fires for the BinaryBA-End stage, i.e. true point finalization.
// It persists the proof, notifies the subscriber, then moves the
// aggregator's acceptance floor to the next point — this is the "caller
// is responsible for also advancing the finalization point" step.
func (e *Engine) onPointFinalized(step model.StepIdentifier, target model.HeightHashPair, proof model.FinalizationProof) {
	point := model.FinalizationPoint(step.Point)

	if err := e.proofStorage.SaveProof(point, target, proof); err != nil {
		e.log.Error("failed to persist finalization proof", zap.Stringer("step", step), zap.Error(err))
		return
	}

	if err := e.wal.WriteSync(wal.NewEndPointEntry(point)); err != nil {
		e.log.Error("failed to write end-point WAL entry", zap.Stringer("step", step), zap.Error(err))
	} else if err := e.wal.Checkpoint(point); err != nil {
		e.log.Warn("failed to checkpoint WAL", zap.Stringer("step", step), zap.Error(err))
	}

	if e.subscriber != nil {
		e.subscriber.NotifyFinalizedBlock(target.Height, target.Hash, point)
	}

	// This sink runs inside Modifier.Add, which already holds the
	// aggregator's writer lock, so it acts through that lock instead of
	// acquiring it again.
	modifier := Modifier{agg: e.aggregator}
	if err := modifier.SetNextFinalizationPoint(point + 1); err != nil {
		e.log.Error("failed to advance aggregator acceptance floor", zap.Stringer("step", step), zap.Error(err))
	}

	e.log.Info("finalized point", zap.Uint64("point", uint64(point)), zap.Uint64("height", target.Height), zap.Stringer("hash", target.Hash))
}

// Start opens the write-ahead log and launches the background loop
// driving the orchestrator's timeouts and triggering Propose() on entry
// to the Propose-Chain stage. It is a no-op if already started.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.wal.Start(); err != nil {
		return fmt.Errorf("starting WAL: %w", err)
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go e.run(runCtx)
	return nil
}

// Stop halts the background loop, waits for it to exit, and closes the
// write-ahead log.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	if err := e.wal.Stop(); err != nil {
		e.log.Warn("failed to close WAL", zap.Error(err))
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	prevStage := e.orchestrator.SubRound()
	if prevStage == model.SubRoundProposeChain {
		e.orchestrator.Propose()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stage := e.orchestrator.SubRound()
			if stage != prevStage {
				prevStage = stage
				if stage == model.SubRoundProposeChain {
					e.orchestrator.Propose()
				}
			}
			e.orchestrator.Advance(now)
		}
	}
}

// AddMessage logs the message to the write-ahead log and routes it
// through the aggregator for verification and vote counting. The WAL
// write happens before aggregation so a node that crashes mid-process
// can replay it on restart instead of relying on the sender to resend.
//
// Add only ever returns ErrContextFactoryFailed: local storage can't
// reproduce state this node itself already finalized. That is not a
// condition the node can keep running through, so it aborts rather than
// silently dropping the vote the way a remote-peer rejection would be.
func (e *Engine) AddMessage(message *model.FinalizationMessage) {
	if err := e.wal.Write(wal.NewFinalizationMessageEntry(message)); err != nil {
		e.log.Warn("failed to write message to WAL", zap.Stringer("step", message.StepIdentifier), zap.Error(err))
	}

	modifier, release := e.aggregator.Modifier()
	defer release()
	if err := modifier.Add(message); err != nil {
		panic(fmt.Sprintf("CONSENSUS CRITICAL: %v", err))
	}
}

// EnableSelfVoting wires signer into the orchestrator's message sink so
// this node actually votes instead of only aggregating other nodes'
// messages: every (height, hashes) pair Propose/Advance would otherwise
// forward to an abstract sink is run through a MessagePreparer built
// from signer, and a selected, signed message is both fed back into this
// engine's own aggregator and handed to broadcast (e.g.
// ionet.Node.Broadcast) so peers see it too. Must be called before
// Start.
func (e *Engine) EnableSelfVoting(signer privval.Signer, broadcast func(*model.FinalizationMessage)) {
	contextFactory := BuildContextFactory(e.proofStorage, e.blockStorage, e.accountState, e.config)
	preparer := NewMessagePreparer(signer, contextFactory, e.log)
	sink := NewSigningMessageSink(preparer, e.aggregator, e.orchestrator.SubRound, e.AddMessage, broadcast, e.log)
	e.orchestrator.SetMessageSink(sink)
}

// Aggregator exposes the underlying MultiStepAggregator, e.g. for the
// gossip layer's pull-message handling.
func (e *Engine) Aggregator() *MultiStepAggregator {
	return e.aggregator
}

// Orchestrator exposes the underlying Orchestrator, e.g. so a local
// signing participant can inspect the current stage.
func (e *Engine) Orchestrator() *Orchestrator {
	return e.orchestrator
}
