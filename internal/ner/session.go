package ner

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

type onnxSession struct {
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newSession(modelPath, outputName string, cfg Config, numLabels int, includeTokenType bool) (*onnxSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(cfg.IntraThreads); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(cfg.InterThreads); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	s := &onnxSession{}
	inputShape := ort.NewShape(1, int64(cfg.MaxTokens))
	if s.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	if s.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		s.destroy()
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	inputNames := []string{"input_ids", "attention_mask"}
	inputValues := []ort.Value{s.inputIDs, s.attentionMask}
	if includeTokenType {
		if s.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
			s.destroy()
			return nil, fmt.Errorf("allocate token_type_ids tensor: %w", err)
		}
		inputNames = append(inputNames, "token_type_ids")
		inputValues = append(inputValues, s.tokenTypeIDs)
	}

	outputShape := ort.NewShape(1, int64(cfg.MaxTokens), int64(numLabels))
	if s.output, err = ort.NewEmptyTensor[float32](outputShape); err != nil {
		s.destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	s.session, err = ort.NewAdvancedSession(
		modelPath,
		inputNames,
		[]string{outputName},
		inputValues,
		[]ort.Value{s.output},
		opts,
	)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return s, nil
}

func (s *onnxSession) infer(ids, attn []int64) ([]float32, error) {
	copy(s.inputIDs.GetData(), ids)
	copy(s.attentionMask.GetData(), attn)
	if s.tokenTypeIDs != nil {
		tt := s.tokenTypeIDs.GetData()
		for i := range tt {
			tt[i] = 0
		}
	}
	if err := s.session.Run(); err != nil {
		return nil, err
	}
	out := s.output.GetData()
	return append([]float32(nil), out...), nil
}

func (s *onnxSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	for _, t := range []*ort.Tensor[int64]{s.inputIDs, s.attentionMask, s.tokenTypeIDs} {
		if t != nil {
			t.Destroy()
		}
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// selectOutputName prefers an output called "logits", else the only output.
func selectOutputName(modelPath string) (string, error) {
	_, outputs, err := ort.GetInputOutputInfoWithOptions(modelPath, nil)
	if err != nil {
		return "", err
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("no outputs found")
	}
	names := make([]string, 0, len(outputs))
	for _, out := range outputs {
		if strings.EqualFold(out.Name, "logits") {
			return out.Name, nil
		}
		names = append(names, out.Name)
	}
	if len(outputs) == 1 {
		return outputs[0].Name, nil
	}
	return "", fmt.Errorf("multiple outputs found without logits: %v", names)
}
