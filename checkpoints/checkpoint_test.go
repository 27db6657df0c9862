package checkpoints

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func sampleCheckpoint() *Checkpoint {
	return &Checkpoint{
		TrainingState: TrainingState{
			Epoch:             3,
			Iteration:         4689,
			Seed:              1,
			SkippedIterations: 2,
		},
		Generator: ModelState{
			Name: "generator",
			Weights: []WeightTensor{
				{Name: "fc1.weight", Shape: []int{2, 3}, Data: []float64{0.1, -0.2, 0.3, 1e-300, -7.5, 0.1 + 0.2}, Layer: "fc1", Type: "weight"},
				{Name: "fc1.bias", Shape: []int{3}, Data: []float64{0, 0, 0.5}, Layer: "fc1", Type: "bias"},
			},
			Optimizer: &OptimizerState{
				Type:       "Adam",
				Parameters: map[string]float64{"learning_rate": 0.0002, "beta1": 0.5, "beta2": 0.999},
				StepCount:  4689,
				StateData: []OptimizerTensor{
					{Name: "m_0", Shape: []int{9}, Data: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, StateType: "m"},
				},
			},
		},
		Discriminators: []ModelState{
			{Name: "discriminator_0", Weights: []WeightTensor{{Name: "out.bias", Shape: []int{1}, Data: []float64{0.25}, Layer: "out", Type: "bias"}}},
			{Name: "discriminator_1", Weights: []WeightTensor{{Name: "out.bias", Shape: []int{1}, Data: []float64{-0.25}, Layer: "out", Type: "bias"}}},
		},
		Scalarization: ScalarizationState{
			Mode:         "hyper",
			Nadir:        []float64{2.5, 3.75},
			NadirVersion: 4689,
			PrevLosses:   []float64{0.69, 0.7},
		},
		RNGState: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Metadata: CheckpointMetadata{
			Version:   "1.0.0",
			Framework: "multigan",
			CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			JobID:     "job-42",
			Tags:      []string{"toy", "8gaussians"},
		},
	}
}

func assertSameCheckpoint(t *testing.T, got, want *Checkpoint) {
	t.Helper()
	if !got.Metadata.CreatedAt.Equal(want.Metadata.CreatedAt) {
		t.Errorf("Expected created_at %v, got %v", want.Metadata.CreatedAt, got.Metadata.CreatedAt)
	}
	g, w := *got, *want
	g.Metadata.CreatedAt, w.Metadata.CreatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("Checkpoint mismatch:\n got %+v\nwant %+v", g, w)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "checkpoint_3ep."+format.Extension())
			saver := NewCheckpointSaver(format)

			want := sampleCheckpoint()
			if err := saver.SaveCheckpoint(want, path); err != nil {
				t.Fatalf("SaveCheckpoint failed: %v", err)
			}
			got, err := saver.LoadCheckpoint(path)
			if err != nil {
				t.Fatalf("LoadCheckpoint failed: %v", err)
			}
			assertSameCheckpoint(t, got, want)
		})
	}
}

func TestCheckpointFormatString(t *testing.T) {
	if FormatJSON.String() != "JSON" {
		t.Errorf("Expected JSON, got %s", FormatJSON.String())
	}
	if FormatProto.String() != "Proto" {
		t.Errorf("Expected Proto, got %s", FormatProto.String())
	}
	if CheckpointFormat(99).String() != "Unknown" {
		t.Errorf("Expected Unknown, got %s", CheckpointFormat(99).String())
	}
}

func TestUnsupportedCheckpointFormat(t *testing.T) {
	saver := NewCheckpointSaver(CheckpointFormat(99))
	path := filepath.Join(t.TempDir(), "checkpoint")
	if err := saver.SaveCheckpoint(sampleCheckpoint(), path); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("Expected unsupported format error, got %v", err)
	}
	if _, err := saver.LoadCheckpoint(path); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("Expected unsupported format error, got %v", err)
	}
}

func TestCheckpointMetadataDefaults(t *testing.T) {
	c := sampleCheckpoint()
	c.Metadata = CheckpointMetadata{}
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := NewCheckpointSaver(FormatJSON).SaveCheckpoint(c, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if c.Metadata.Framework != "multigan" {
		t.Errorf("Expected framework multigan, got %q", c.Metadata.Framework)
	}
	if c.Metadata.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
}

func TestLoadMissingCheckpoint(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		_, err := NewCheckpointSaver(format).LoadCheckpoint(filepath.Join(t.TempDir(), "nope"))
		if !errors.Is(err, ErrCheckpointNotFound) {
			t.Errorf("%s: expected ErrCheckpointNotFound, got %v", format, err)
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s: expected wrapped os.ErrNotExist, got %v", format, err)
		}
	}
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(jsonPath, []byte("{\"training_state\": "), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCheckpointSaver(FormatJSON).LoadCheckpoint(jsonPath); !errors.Is(err, ErrCorruptCheckpoint) {
		t.Errorf("Expected ErrCorruptCheckpoint for truncated JSON, got %v", err)
	}

	protoPath := filepath.Join(dir, "bad.pb")
	data := MarshalProto(sampleCheckpoint())
	if err := os.WriteFile(protoPath, data[:len(data)/2], 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCheckpointSaver(FormatProto).LoadCheckpoint(protoPath); !errors.Is(err, ErrCorruptCheckpoint) {
		t.Errorf("Expected ErrCorruptCheckpoint for truncated proto, got %v", err)
	}
}

func TestProtoSkipsUnknownFields(t *testing.T) {
	want := sampleCheckpoint()
	data := MarshalProto(want)
	data = protowire.AppendTag(data, 99, protowire.VarintType)
	data = protowire.AppendVarint(data, 12345)
	data = protowire.AppendTag(data, 100, protowire.BytesType)
	data = protowire.AppendString(data, "future field")

	got, err := UnmarshalProto(data)
	if err != nil {
		t.Fatalf("UnmarshalProto failed: %v", err)
	}
	assertSameCheckpoint(t, got, want)
}

func TestProtoUninitializedNadirStaysNil(t *testing.T) {
	c := sampleCheckpoint()
	c.Scalarization = ScalarizationState{Mode: "vanilla"}
	got, err := UnmarshalProto(MarshalProto(c))
	if err != nil {
		t.Fatalf("UnmarshalProto failed: %v", err)
	}
	if got.Scalarization.Nadir != nil {
		t.Errorf("Expected nil nadir, got %v", got.Scalarization.Nadir)
	}
}

func TestFailedSaveKeepsPreviousCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	saver := NewCheckpointSaver(FormatJSON)

	if err := saver.SaveCheckpoint(sampleCheckpoint(), path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	failing := errors.New("disk full")
	err = writeAtomic(path, func(w io.Writer) error {
		w.Write([]byte("{\"partial\":"))
		return failing
	})
	if !errors.Is(err, failing) {
		t.Fatalf("Expected write error, got %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("Failed save modified the published checkpoint")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only the published checkpoint, found %v", names)
	}
}

func TestSaveIntoMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "checkpoint.json")
	if err := NewCheckpointSaver(FormatJSON).SaveCheckpoint(sampleCheckpoint(), path); err == nil {
		t.Error("Expected error saving into a missing directory")
	}
}
