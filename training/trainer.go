package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/multigan/async"
	"github.com/tsawler/multigan/checkpoints"
	"github.com/tsawler/multigan/dataset"
	"github.com/tsawler/multigan/models"
	"github.com/tsawler/multigan/optimizer"
	"github.com/tsawler/multigan/scalarization"
)

// DataSource yields the real batches of one epoch at a time. Next returns
// io.EOF when the epoch is exhausted. *async.AsyncDataLoader implements it.
type DataSource interface {
	Reset(epoch int) error
	Next(ctx context.Context) (*async.Batch, error)
}

// PCG stream selectors; the seed picks the sequence within a stream.
const (
	noiseStream      = 0x853c49e6748fea9b
	diagnosticStream = 0xda3e39cb94b95bdb
)

// TrainLoop trains one generator against a panel of discriminators,
// collapsing their feedback with a scalarization strategy.
type TrainLoop struct {
	generator      models.Generator
	genOpt         optimizer.Optimizer
	discriminators []models.Discriminator
	data           DataSource
	config         Config
	logger         *log.Logger

	strategy scalarization.Strategy
	state    scalarization.State

	pcg *rand.PCG
	rng *rand.Rand

	epoch     int // completed epochs
	iteration int
	skipped   int

	history     []EpochMetrics
	checkpoints *CheckpointManager
	reference   dataset.Diagnosable

	baseGenLR  float64
	baseDiscLR []float64
}

type iterationResult struct {
	genLoss    float64
	discLosses []float64
	weights    []float64
	skipped    bool
}

// NewTrainLoop validates its inputs and, when config.ResumeEpoch > 0,
// restores the run from that epoch's checkpoint.
func NewTrainLoop(generator models.Generator, genOpt optimizer.Optimizer, discriminators []models.Discriminator, data DataSource, config Config) (*TrainLoop, error) {
	if generator == nil {
		return nil, ErrNilGenerator
	}
	if genOpt == nil {
		return nil, ErrNilOptimizer
	}
	if len(discriminators) == 0 {
		return nil, ErrNoDiscriminators
	}
	for i, d := range discriminators {
		if d == nil {
			return nil, fmt.Errorf("discriminator %d is nil", i)
		}
	}
	if data == nil {
		return nil, ErrNilDataSource
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training config: %w", err)
	}
	adoptJobID := config.JobID == ""
	config.setDefaults()

	strategy, err := scalarization.New(config.Scalarization)
	if err != nil {
		return nil, fmt.Errorf("invalid training config: %w", err)
	}

	pcg := rand.NewPCG(config.Seed, noiseStream)
	t := &TrainLoop{
		generator:      generator,
		genOpt:         genOpt,
		discriminators: discriminators,
		data:           data,
		config:         config,
		logger:         config.Logger,
		strategy:       strategy,
		pcg:            pcg,
		rng:            rand.New(pcg),
		baseGenLR:      genOpt.GetLearningRate(),
	}
	for _, d := range discriminators {
		t.baseDiscLR = append(t.baseDiscLR, d.Optimizer().GetLearningRate())
	}
	if config.Checkpoint.SaveDirectory != "" {
		t.checkpoints = NewCheckpointManager(config.Checkpoint)
	}
	if src, ok := data.(interface{ Dataset() dataset.Dataset }); ok {
		if ref, ok := src.Dataset().(dataset.Diagnosable); ok {
			t.reference = ref
		}
	}

	if config.ResumeEpoch > 0 {
		ckpt, err := t.checkpoints.Load(config.ResumeEpoch)
		if err != nil {
			return nil, fmt.Errorf("%w: epoch %d: %w", ErrResumeFailed, config.ResumeEpoch, err)
		}
		if adoptJobID && ckpt.Metadata.JobID != "" {
			t.config.JobID = ckpt.Metadata.JobID
		}
		if err := t.restore(ckpt); err != nil {
			return nil, fmt.Errorf("%w: epoch %d: %w", ErrResumeFailed, config.ResumeEpoch, err)
		}
		t.logger.Printf("Resumed %s training from %s (epoch %d, iteration %d)",
			strategy.Mode(), t.checkpoints.Path(config.ResumeEpoch), t.epoch, t.iteration)
	}

	return t, nil
}

// Epoch returns the number of completed epochs.
func (t *TrainLoop) Epoch() int { return t.epoch }

// Iteration returns the number of iterations run, skipped ones included.
func (t *TrainLoop) Iteration() int { return t.iteration }

// SkippedIterations counts iterations dropped because of non-finite values.
func (t *TrainLoop) SkippedIterations() int { return t.skipped }

// JobID identifies the run in checkpoint metadata.
func (t *TrainLoop) JobID() string { return t.config.JobID }

// Mode returns the scalarization mode in use.
func (t *TrainLoop) Mode() scalarization.Mode { return t.strategy.Mode() }

// State returns a copy of the scalarization state.
func (t *TrainLoop) State() scalarization.State {
	return scalarization.State{
		Nadir:      t.state.Nadir.Clone(),
		PrevLosses: cloneFloats(t.state.PrevLosses),
	}
}

// History returns the metrics of every epoch run by this loop.
func (t *TrainLoop) History() []EpochMetrics {
	return append([]EpochMetrics(nil), t.history...)
}

// Train runs epochs until nEpochs have completed. After completed epoch e a
// checkpoint is saved when e%saveEvery == 0 or e == nEpochs; saveEvery <= 0
// only saves the final epoch. ctx is checked between iterations; on
// cancellation Train returns ctx.Err() and the loop holds the state after
// the last full iteration.
func (t *TrainLoop) Train(ctx context.Context, nEpochs, saveEvery int) error {
	if nEpochs <= t.epoch {
		t.logger.Printf("Nothing to do: %d of %d epochs already completed", t.epoch, nEpochs)
		return nil
	}
	t.logger.Printf("Training %d epochs with %d discriminators, mode %s, job %s",
		nEpochs-t.epoch, len(t.discriminators), t.strategy.Mode(), t.config.JobID)

	for t.epoch < nEpochs {
		metrics, err := t.runEpoch(ctx, nEpochs)
		if err != nil {
			return err
		}
		t.logger.Printf("Epoch %d/%d: %s", t.epoch, nEpochs, metrics)

		if t.checkpoints != nil && ((saveEvery > 0 && t.epoch%saveEvery == 0) || t.epoch == nEpochs) {
			if err := t.saveCheckpoint(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *TrainLoop) runEpoch(ctx context.Context, nEpochs int) (EpochMetrics, error) {
	index := t.epoch
	start := time.Now()

	t.applySchedule(index)
	if err := t.data.Reset(index); err != nil {
		return EpochMetrics{}, fmt.Errorf("failed to start epoch %d: %w", index+1, err)
	}

	var bar *ProgressBar
	if t.config.Progress != nil {
		total := 0
		if counted, ok := t.data.(interface{ NumBatches() int }); ok {
			total = counted.NumBatches()
		}
		bar = NewProgressBar(t.config.Progress, fmt.Sprintf("Epoch %d/%d", index+1, nEpochs), total)
	}

	acc := newEpochAccumulator(len(t.discriminators))
	for {
		if err := ctx.Err(); err != nil {
			return EpochMetrics{}, err
		}
		batch, err := t.data.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return EpochMetrics{}, ctxErr
			}
			return EpochMetrics{}, fmt.Errorf("failed to load batch: %w", err)
		}

		res, err := t.step(batch.Data)
		if err != nil {
			return EpochMetrics{}, fmt.Errorf("iteration %d: %w", t.iteration, err)
		}
		t.iteration++
		acc.add(res)

		if bar != nil {
			bar.Update(acc.iterations+acc.skipped, map[string]float64{"g_loss": res.genLoss})
		}
		if t.config.LogEvery > 0 && t.iteration%t.config.LogEvery == 0 && !res.skipped {
			t.logger.Printf("Iteration %d: G loss %.4f, D losses %s, weights %s",
				t.iteration, res.genLoss, formatVector(res.discLosses), formatVector(res.weights))
		}
	}
	if bar != nil {
		bar.Finish()
	}

	t.epoch++
	metrics := acc.metrics(t.epoch, time.Since(start))
	if t.reference != nil && t.config.DiagnosticSamples > 0 {
		cov := dataset.MeasureCoverage(t.reference, t.sampleDiagnostics())
		metrics.Diagnostics = &cov
	}
	if ms, ok := t.config.Scheduler.(MetricScheduler); ok && metrics.Iterations > 0 {
		ms.Observe(metrics.GeneratorLoss)
	}
	t.history = append(t.history, metrics)
	return metrics, nil
}

// step runs one iteration on a real batch: discriminator updates, generator
// feedback, scalarization, generator update.
func (t *TrainLoop) step(real *mat.Dense) (iterationResult, error) {
	n := len(t.discriminators)
	batchSize, _ := real.Dims()
	res := iterationResult{discLosses: make([]float64, n)}

	fake, _ := t.generator.Forward(t.sampleNoise(t.rng, batchSize))
	errs := make([]error, n)
	t.forEachDiscriminator(func(i int, d models.Discriminator) {
		res.discLosses[i], errs[i] = d.TrainStep(real, fake)
	})
	for i, err := range errs {
		if errors.Is(err, models.ErrNonFiniteLoss) {
			return t.skip(res, fmt.Sprintf("discriminator %s produced a non-finite loss", t.discriminators[i].Name())), nil
		}
		if err != nil {
			return res, fmt.Errorf("discriminator %s: %w", t.discriminators[i].Name(), err)
		}
	}

	fake, backward := t.generator.Forward(t.sampleNoise(t.rng, batchSize))
	losses := make([]float64, n)
	fakeGrads := make([]*mat.Dense, n)
	t.forEachDiscriminator(func(i int, d models.Discriminator) {
		losses[i], fakeGrads[i] = d.LossForGenerator(fake)
	})

	in := scalarization.Input{Losses: losses}
	if t.strategy.NeedsGradients() {
		in.Gradients = make([][]float64, n)
		t.forEachDiscriminator(func(i int, _ models.Discriminator) {
			in.Gradients[i] = backward(fakeGrads[i])
		})
	}

	combined, next, err := t.strategy.Combine(in, t.state)
	if errors.Is(err, scalarization.ErrNonFinite) {
		return t.skip(res, fmt.Sprintf("generator losses %s are not finite", formatVector(losses))), nil
	}
	if err != nil {
		return res, fmt.Errorf("scalarization failed: %w", err)
	}

	grad := combined.Direction
	if grad == nil {
		rows, cols := fake.Dims()
		upstream := mat.NewDense(rows, cols, nil)
		upstream.Scale(combined.Weights[0], fakeGrads[0])
		var scaled mat.Dense
		for i := 1; i < n; i++ {
			scaled.Scale(combined.Weights[i], fakeGrads[i])
			upstream.Add(upstream, &scaled)
		}
		grad = backward(upstream)
	}
	if !allFinite(grad) {
		return t.skip(res, "generator gradient is not finite"), nil
	}

	if err := t.genOpt.Step(t.generator.Parameters(), grad); err != nil {
		return res, fmt.Errorf("generator optimizer step failed: %w", err)
	}
	t.state = next

	res.genLoss = combined.Loss
	res.weights = combined.Weights
	return res, nil
}

func (t *TrainLoop) skip(res iterationResult, reason string) iterationResult {
	t.skipped++
	t.logger.Printf("Skipping iteration %d: %s", t.iteration, reason)
	res.skipped = true
	return res
}

// forEachDiscriminator calls fn for every discriminator, concurrently when
// configured. fn must only write to its own index.
func (t *TrainLoop) forEachDiscriminator(fn func(i int, d models.Discriminator)) {
	if !t.config.ParallelDiscriminators || len(t.discriminators) == 1 {
		for i, d := range t.discriminators {
			fn(i, d)
		}
		return
	}
	var wg sync.WaitGroup
	for i, d := range t.discriminators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(i, d)
		}()
	}
	wg.Wait()
}

func (t *TrainLoop) sampleNoise(rng *rand.Rand, rows int) *mat.Dense {
	cols := t.generator.NoiseDim()
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

// sampleDiagnostics draws from a stream of its own so diagnostics never
// change the training trajectory.
func (t *TrainLoop) sampleDiagnostics() *mat.Dense {
	rng := rand.New(rand.NewPCG(t.config.Seed^diagnosticStream, uint64(t.epoch)))
	samples, _ := t.generator.Forward(t.sampleNoise(rng, t.config.DiagnosticSamples))
	return samples
}

func (t *TrainLoop) applySchedule(epoch int) {
	if t.config.Scheduler == nil {
		return
	}
	t.genOpt.UpdateLearningRate(t.config.Scheduler.LearningRate(epoch, t.baseGenLR))
	for i, d := range t.discriminators {
		d.Optimizer().UpdateLearningRate(t.config.Scheduler.LearningRate(epoch, t.baseDiscLR[i]))
	}
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func cloneFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}

// Checkpoint captures everything needed to continue the run exactly.
func (t *TrainLoop) Checkpoint() (*checkpoints.Checkpoint, error) {
	gen, err := captureModel("G", t.generator.Parameters(), t.generator.Layout(), t.genOpt)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	discs := make([]checkpoints.ModelState, 0, len(t.discriminators))
	for _, d := range t.discriminators {
		state, err := captureModel(d.Name(), d.Parameters(), d.Layout(), d.Optimizer())
		if err != nil {
			return nil, fmt.Errorf("discriminator %s: %w", d.Name(), err)
		}
		discs = append(discs, state)
	}
	rngState, err := t.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to capture noise generator: %w", err)
	}

	mode := t.strategy.Mode().String()
	return &checkpoints.Checkpoint{
		TrainingState: checkpoints.TrainingState{
			Epoch:             t.epoch,
			Iteration:         t.iteration,
			Seed:              t.config.Seed,
			SkippedIterations: t.skipped,
		},
		Generator:      gen,
		Discriminators: discs,
		Scalarization: checkpoints.ScalarizationState{
			Mode:         mode,
			Nadir:        cloneFloats(t.state.Nadir.Values),
			NadirVersion: t.state.Nadir.Version,
			PrevLosses:   cloneFloats(t.state.PrevLosses),
		},
		RNGState: rngState,
		Metadata: checkpoints.CheckpointMetadata{
			JobID:       t.config.JobID,
			Description: fmt.Sprintf("%s training with %d discriminators, epoch %d", mode, len(t.discriminators), t.epoch),
			Tags:        []string{mode, fmt.Sprintf("epoch_%d", t.epoch)},
		},
	}, nil
}

func (t *TrainLoop) saveCheckpoint() error {
	ckpt, err := t.Checkpoint()
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	path, err := t.checkpoints.Save(ckpt)
	if err != nil {
		return err
	}
	t.logger.Printf("Saved checkpoint %s", path)
	return nil
}

func captureModel(name string, params []float64, layout []checkpoints.ParamSpec, opt optimizer.Optimizer) (checkpoints.ModelState, error) {
	weights, err := checkpoints.ExtractWeights(params, layout)
	if err != nil {
		return checkpoints.ModelState{}, err
	}
	optState, err := opt.GetState()
	if err != nil {
		return checkpoints.ModelState{}, fmt.Errorf("failed to capture optimizer state: %w", err)
	}
	return checkpoints.ModelState{Name: name, Weights: weights, Optimizer: optState}, nil
}

// restore loads ckpt into the loop. On error the loop must be discarded.
func (t *TrainLoop) restore(ckpt *checkpoints.Checkpoint) error {
	n := len(t.discriminators)
	if len(ckpt.Discriminators) != n {
		return fmt.Errorf("%w: checkpoint has %d discriminators, run has %d", ErrCheckpointMismatch, len(ckpt.Discriminators), n)
	}
	if mode := t.strategy.Mode().String(); ckpt.Scalarization.Mode != mode {
		return fmt.Errorf("%w: checkpoint mode %q, run mode %q", ErrCheckpointMismatch, ckpt.Scalarization.Mode, mode)
	}
	if ckpt.TrainingState.Seed != t.config.Seed {
		return fmt.Errorf("%w: checkpoint seed %d, run seed %d", ErrCheckpointMismatch, ckpt.TrainingState.Seed, t.config.Seed)
	}
	if l := len(ckpt.Scalarization.Nadir); l != 0 && l != n {
		return fmt.Errorf("%w: nadir point has %d components", ErrCheckpointMismatch, l)
	}
	if l := len(ckpt.Scalarization.PrevLosses); l != 0 && l != n {
		return fmt.Errorf("%w: loss history has %d components", ErrCheckpointMismatch, l)
	}

	if err := restoreModel(ckpt.Generator, t.generator.Parameters(), t.generator.Layout(), t.genOpt); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	for i, d := range t.discriminators {
		if err := restoreModel(ckpt.Discriminators[i], d.Parameters(), d.Layout(), d.Optimizer()); err != nil {
			return fmt.Errorf("discriminator %s: %w", d.Name(), err)
		}
	}
	if err := t.pcg.UnmarshalBinary(ckpt.RNGState); err != nil {
		return fmt.Errorf("%w: noise generator state: %w", checkpoints.ErrCorruptCheckpoint, err)
	}

	t.state = scalarization.State{
		Nadir: scalarization.NadirPoint{
			Values:  cloneFloats(ckpt.Scalarization.Nadir),
			Version: ckpt.Scalarization.NadirVersion,
		},
		PrevLosses: cloneFloats(ckpt.Scalarization.PrevLosses),
	}
	t.epoch = ckpt.TrainingState.Epoch
	t.iteration = ckpt.TrainingState.Iteration
	t.skipped = ckpt.TrainingState.SkippedIterations
	if ckpt.Metadata.JobID != "" && ckpt.Metadata.JobID != t.config.JobID {
		t.logger.Printf("Checkpoint was written by job %s, continuing as job %s", ckpt.Metadata.JobID, t.config.JobID)
	}
	return nil
}

func restoreModel(state checkpoints.ModelState, params []float64, layout []checkpoints.ParamSpec, opt optimizer.Optimizer) error {
	if err := checkpoints.LoadWeights(state.Weights, params, layout); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointMismatch, err)
	}
	if state.Optimizer == nil {
		return fmt.Errorf("%w: missing optimizer state", ErrCheckpointMismatch)
	}
	if err := opt.LoadState(state.Optimizer); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointMismatch, err)
	}
	return nil
}
