//go:build cgo

package adapter

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/anime-shed/pattern-inspector-go/internal/embedding"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
)

var onnxInitMu sync.Mutex

// onnxTensor runs ONNX graphs through ONNX Runtime.
type onnxTensor struct {
	useGPU     bool
	memLimitMB int64
}

func newAcceleratedTensor(opts Options) (TensorInference, error) {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()

	if !onnxrt.IsInitialized() {
		if opts.RuntimeLibPath != "" {
			onnxrt.SetSharedLibraryPath(opts.RuntimeLibPath)
		}
		if err := onnxrt.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnx: %w", err)
		}
	}
	return &onnxTensor{useGPU: opts.UseGPU, memLimitMB: opts.MemoryCeilingMB}, nil
}

func (t *onnxTensor) Name() string {
	return "onnxruntime"
}

func (t *onnxTensor) Close() error {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()
	if onnxrt.IsInitialized() {
		return onnxrt.DestroyEnvironment()
	}
	return nil
}

func (t *onnxTensor) sessionOptions() (*onnxrt.SessionOptions, error) {
	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session opts: %w", err)
	}
	if !t.useGPU {
		return opts, nil
	}

	cuda, err := onnxrt.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("cuda opts: %w", err)
	}
	defer cuda.Destroy()

	settings := map[string]string{"device_id": "0"}
	if t.memLimitMB > 0 {
		settings["gpu_mem_limit"] = strconv.FormatInt(t.memLimitMB*1024*1024, 10)
	}
	if err := cuda.Update(settings); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("cuda opts: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("cuda provider: %w", err)
	}
	return opts, nil
}

func (t *onnxTensor) Load(ctx context.Context, spec ModelSpec) (Model, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("model %q has no graph file", spec.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("io info: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("model %q declares no outputs", spec.ID)
	}

	m := &onnxModel{spec: spec, widths: make(map[string]int, len(inputs))}
	for _, in := range inputs {
		m.inputNames = append(m.inputNames, in.Name)
		if dims := in.Dimensions; len(dims) == 2 && dims[1] > 0 {
			m.widths[in.Name] = int(dims[1])
		}
	}
	output := outputs[0].Name
	for _, out := range outputs {
		if out.Name == spec.Output {
			output = out.Name
		}
	}

	opts, err := t.sessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	sess, err := onnxrt.NewDynamicAdvancedSession(spec.Path, m.inputNames, []string{output}, opts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	m.session = sess

	logger.WithFields(logrus.Fields{
		"model":  spec.ID,
		"inputs": m.inputNames,
		"gpu":    t.useGPU,
	}).Info("Loaded ONNX model")
	return m, nil
}

type onnxModel struct {
	spec       ModelSpec
	session    *onnxrt.DynamicAdvancedSession
	inputNames []string
	widths     map[string]int
}

func (m *onnxModel) ID() string       { return m.spec.ID }
func (m *onnxModel) Labels() []string { return m.spec.Labels }

func (m *onnxModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

func (m *onnxModel) Run(ctx context.Context, inputs []NamedTensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := make([]onnxrt.Value, 0, len(m.inputNames))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()
	for _, name := range m.inputNames {
		data := inputByName(inputs, name)
		if data == nil {
			// Graphs with a text input still run on image-only calls
			width := m.widths[name]
			if width == 0 {
				width = embedding.Dim
			}
			data = make([]float32, width)
		}
		tensor, err := onnxrt.NewTensor(onnxrt.NewShape(1, int64(len(data))), data)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		values = append(values, tensor)
	}

	outputs := []onnxrt.Value{nil}
	if err := m.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	t, ok := outputs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	data := t.GetData()
	if len(data) != len(m.spec.Labels) {
		return nil, fmt.Errorf("model %q returned %d scores for %d labels", m.spec.ID, len(data), len(m.spec.Labels))
	}
	scores := make([]float32, len(data))
	copy(scores, data)
	return scores, nil
}
