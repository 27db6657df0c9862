package checkpoints

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary checkpoint layout, protobuf wire compatible:
//
//	Checkpoint         1 training_state  2 generator  3 discriminators (repeated)
//	                   4 scalarization   5 rng_state  6 metadata
//	TrainingState      1 epoch  2 iteration  3 seed  4 skipped_iterations
//	ModelState         1 name  2 weights (repeated)  3 optimizer
//	WeightTensor       1 name  2 shape (packed)  3 data (packed double)  4 layer  5 type
//	OptimizerState     1 type  2 parameters (repeated {1 key, 2 value})  3 step_count  4 state_data (repeated)
//	OptimizerTensor    1 name  2 shape  3 data  4 state_type
//	ScalarizationState 1 mode  2 nadir  3 nadir_version  4 prev_losses
//	CheckpointMetadata 1 version  2 framework  3 created_at (unix nanos)  4 job_id  5 description  6 tags (repeated)

var errWireType = errors.New("unexpected wire type")

func encodeProto(w io.Writer, checkpoint *Checkpoint) error {
	if _, err := w.Write(MarshalProto(checkpoint)); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func decodeProto(data []byte) (*Checkpoint, error) {
	return UnmarshalProto(data)
}

// MarshalProto encodes checkpoint in the binary checkpoint format.
func MarshalProto(c *Checkpoint) []byte {
	var b []byte
	b = appendMessage(b, 1, marshalTrainingState(c.TrainingState))
	b = appendMessage(b, 2, marshalModelState(c.Generator))
	for _, d := range c.Discriminators {
		b = appendMessage(b, 3, marshalModelState(d))
	}
	b = appendMessage(b, 4, marshalScalarizationState(c.Scalarization))
	if len(c.RNGState) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, c.RNGState)
	}
	b = appendMessage(b, 6, marshalMetadata(c.Metadata))
	return b
}

// UnmarshalProto decodes a checkpoint produced by MarshalProto. Unknown
// fields are skipped.
func UnmarshalProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeMessage(typ, b, func(m []byte) (err error) {
				c.TrainingState, err = unmarshalTrainingState(m)
				return err
			})
		case 2:
			return consumeMessage(typ, b, func(m []byte) (err error) {
				c.Generator, err = unmarshalModelState(m)
				return err
			})
		case 3:
			return consumeMessage(typ, b, func(m []byte) error {
				d, err := unmarshalModelState(m)
				c.Discriminators = append(c.Discriminators, d)
				return err
			})
		case 4:
			return consumeMessage(typ, b, func(m []byte) (err error) {
				c.Scalarization, err = unmarshalScalarizationState(m)
				return err
			})
		case 5:
			return consumeMessage(typ, b, func(m []byte) error {
				c.RNGState = append([]byte(nil), m...)
				return nil
			})
		case 6:
			return consumeMessage(typ, b, func(m []byte) (err error) {
				c.Metadata, err = unmarshalMetadata(m)
				return err
			})
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func marshalTrainingState(s TrainingState) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(int64(s.Epoch)))
	b = appendVarint(b, 2, uint64(int64(s.Iteration)))
	b = appendVarint(b, 3, s.Seed)
	b = appendVarint(b, 4, uint64(int64(s.SkippedIterations)))
	return b
}

func unmarshalTrainingState(b []byte) (TrainingState, error) {
	var s TrainingState
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt(typ, b, &s.Epoch)
		case 2:
			return consumeInt(typ, b, &s.Iteration)
		case 3:
			return consumeUint(typ, b, &s.Seed)
		case 4:
			return consumeInt(typ, b, &s.SkippedIterations)
		}
		return -1, nil
	})
	return s, err
}

func marshalModelState(s ModelState) []byte {
	var b []byte
	b = appendString(b, 1, s.Name)
	for _, w := range s.Weights {
		var m []byte
		m = appendString(m, 1, w.Name)
		m = appendInts(m, 2, w.Shape)
		m = appendDoubles(m, 3, w.Data)
		m = appendString(m, 4, w.Layer)
		m = appendString(m, 5, w.Type)
		b = appendMessage(b, 2, m)
	}
	if s.Optimizer != nil {
		b = appendMessage(b, 3, marshalOptimizerState(s.Optimizer))
	}
	return b
}

func unmarshalModelState(b []byte) (ModelState, error) {
	var s ModelState
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &s.Name)
		case 2:
			return consumeMessage(typ, b, func(m []byte) error {
				var w WeightTensor
				err := walkFields(m, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeString(typ, b, &w.Name)
					case 2:
						return consumeInts(typ, b, &w.Shape)
					case 3:
						return consumeDoubles(typ, b, &w.Data)
					case 4:
						return consumeString(typ, b, &w.Layer)
					case 5:
						return consumeString(typ, b, &w.Type)
					}
					return -1, nil
				})
				s.Weights = append(s.Weights, w)
				return err
			})
		case 3:
			return consumeMessage(typ, b, func(m []byte) error {
				opt, err := unmarshalOptimizerState(m)
				s.Optimizer = opt
				return err
			})
		}
		return -1, nil
	})
	return s, err
}

func marshalOptimizerState(s *OptimizerState) []byte {
	var b []byte
	b = appendString(b, 1, s.Type)

	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = protowire.AppendTag(entry, 2, protowire.Fixed64Type)
		entry = protowire.AppendFixed64(entry, math.Float64bits(s.Parameters[k]))
		b = appendMessage(b, 2, entry)
	}

	b = appendVarint(b, 3, s.StepCount)
	for _, t := range s.StateData {
		var m []byte
		m = appendString(m, 1, t.Name)
		m = appendInts(m, 2, t.Shape)
		m = appendDoubles(m, 3, t.Data)
		m = appendString(m, 4, t.StateType)
		b = appendMessage(b, 4, m)
	}
	return b
}

func unmarshalOptimizerState(b []byte) (*OptimizerState, error) {
	s := &OptimizerState{Parameters: make(map[string]float64)}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &s.Type)
		case 2:
			return consumeMessage(typ, b, func(m []byte) error {
				var key string
				var value float64
				err := walkFields(m, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeString(typ, b, &key)
					case 2:
						return consumeDouble(typ, b, &value)
					}
					return -1, nil
				})
				s.Parameters[key] = value
				return err
			})
		case 3:
			return consumeUint(typ, b, &s.StepCount)
		case 4:
			return consumeMessage(typ, b, func(m []byte) error {
				var t OptimizerTensor
				err := walkFields(m, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeString(typ, b, &t.Name)
					case 2:
						return consumeInts(typ, b, &t.Shape)
					case 3:
						return consumeDoubles(typ, b, &t.Data)
					case 4:
						return consumeString(typ, b, &t.StateType)
					}
					return -1, nil
				})
				s.StateData = append(s.StateData, t)
				return err
			})
		}
		return -1, nil
	})
	return s, err
}

func marshalScalarizationState(s ScalarizationState) []byte {
	var b []byte
	b = appendString(b, 1, s.Mode)
	b = appendDoubles(b, 2, s.Nadir)
	b = appendVarint(b, 3, s.NadirVersion)
	b = appendDoubles(b, 4, s.PrevLosses)
	return b
}

func unmarshalScalarizationState(b []byte) (ScalarizationState, error) {
	var s ScalarizationState
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &s.Mode)
		case 2:
			return consumeDoubles(typ, b, &s.Nadir)
		case 3:
			return consumeUint(typ, b, &s.NadirVersion)
		case 4:
			return consumeDoubles(typ, b, &s.PrevLosses)
		}
		return -1, nil
	})
	return s, err
}

func marshalMetadata(m CheckpointMetadata) []byte {
	var b []byte
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	if !m.CreatedAt.IsZero() {
		b = appendVarint(b, 3, uint64(m.CreatedAt.UnixNano()))
	}
	b = appendString(b, 4, m.JobID)
	b = appendString(b, 5, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

func unmarshalMetadata(b []byte) (CheckpointMetadata, error) {
	var m CheckpointMetadata
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Version)
		case 2:
			return consumeString(typ, b, &m.Framework)
		case 3:
			var nanos uint64
			n, err := consumeUint(typ, b, &nanos)
			m.CreatedAt = time.Unix(0, int64(nanos))
			return n, err
		case 4:
			return consumeString(typ, b, &m.JobID)
		case 5:
			return consumeString(typ, b, &m.Description)
		case 6:
			var tag string
			n, err := consumeString(typ, b, &tag)
			m.Tags = append(m.Tags, tag)
			return n, err
		}
		return -1, nil
	})
	return m, err
}

// Encoding helpers. Zero values are omitted, as in proto3.

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func appendInts(b []byte, num protowire.Number, vs []int) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	return appendMessage(b, num, packed)
}

// Decoding helpers. Each returns the number of bytes consumed from b, or a
// negative protowire error code.

// walkFields calls fn for every field in b. fn returns -1 to have an
// unknown field skipped.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == -1 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func consumeMessage(typ protowire.Type, b []byte, fn func([]byte) error) (int, error) {
	if typ != protowire.BytesType {
		return 0, errWireType
	}
	m, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, fn(m)
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	return consumeMessage(typ, b, func(m []byte) error {
		*dst = string(m)
		return nil
	})
}

func consumeUint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeInt(typ protowire.Type, b []byte, dst *int) (int, error) {
	var v uint64
	n, err := consumeUint(typ, b, &v)
	*dst = int(int64(v))
	return n, err
}

func consumeDouble(typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, errWireType
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = math.Float64frombits(v)
	return n, nil
}

// consumeDoubles accepts both packed and unpacked encodings.
func consumeDoubles(typ protowire.Type, b []byte, dst *[]float64) (int, error) {
	if typ == protowire.Fixed64Type {
		var v float64
		n, err := consumeDouble(typ, b, &v)
		*dst = append(*dst, v)
		return n, err
	}
	return consumeMessage(typ, b, func(m []byte) error {
		if len(m)%8 != 0 {
			return fmt.Errorf("packed double field has %d bytes", len(m))
		}
		for len(m) > 0 {
			v, n := protowire.ConsumeFixed64(m)
			if n < 0 {
				return protowire.ParseError(n)
			}
			*dst = append(*dst, math.Float64frombits(v))
			m = m[n:]
		}
		return nil
	})
}

// consumeInts accepts both packed and unpacked encodings.
func consumeInts(typ protowire.Type, b []byte, dst *[]int) (int, error) {
	if typ == protowire.VarintType {
		var v int
		n, err := consumeInt(typ, b, &v)
		*dst = append(*dst, v)
		return n, err
	}
	return consumeMessage(typ, b, func(m []byte) error {
		for len(m) > 0 {
			v, n := protowire.ConsumeVarint(m)
			if n < 0 {
				return protowire.ParseError(n)
			}
			*dst = append(*dst, int(int64(v)))
			m = m[n:]
		}
		return nil
	})
}
