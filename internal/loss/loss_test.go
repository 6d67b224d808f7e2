package loss

import (
	"math"
	"testing"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// TestCrossEntropyForward tests values against hand-computed results.
func TestCrossEntropyForward(t *testing.T) {
	tests := []struct {
		name     string
		logits   []float64
		target   *tensor.Tensor
		expected float64
	}{
		{
			"uniform logits",
			[]float64{0, 0, 0, 0},
			mustTensor(t, []float64{3}, 1),
			math.Log(4),
		},
		{
			"index targets",
			[]float64{1, 2, 3, 1, 2, 3},
			mustTensor(t, []float64{2, 0}, 2),
			(softplusCE([]float64{1, 2, 3}, 2) + softplusCE([]float64{1, 2, 3}, 0)) / 2,
		},
		{
			"one-hot targets",
			[]float64{1, 2, 3, 1, 2, 3},
			mustTensor(t, []float64{0, 0, 1, 1, 0, 0}, 2, 3),
			(softplusCE([]float64{1, 2, 3}, 2) + softplusCE([]float64{1, 2, 3}, 0)) / 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := len(tt.logits) / tt.target.Shape[0]
			logits := mustTensor(t, tt.logits, tt.target.Shape[0], k)
			got, err := NewCrossEntropy().Forward(logits, tt.target)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("Forward() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCrossEntropyLargeLogitsAreStable(t *testing.T) {
	logits := mustTensor(t, []float64{1000, 0, -1000}, 1, 3)
	got, err := NewCrossEntropy().Forward(logits, mustTensor(t, []float64{0}, 1))
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(got) || math.IsInf(got, 0) || got > 1e-9 {
		t.Errorf("Forward() = %v, want about 0", got)
	}
}

// TestCrossEntropyGradient compares Backward against central differences.
func TestCrossEntropyGradient(t *testing.T) {
	targets := []*tensor.Tensor{
		mustTensor(t, []float64{1, 3, 0}, 3),
		mustTensor(t, []float64{0, 1, 0, 0, 0, 0, 0, 1, 0.5, 0.5, 0, 0}, 3, 4),
	}
	for _, target := range targets {
		logits := mustTensor(t, []float64{0.2, -1, 0.7, 1.5, 0, 0.3, -0.4, 2, 1, 1, -2, 0.1}, 3, 4)
		ce := NewCrossEntropy()
		if _, err := ce.Forward(logits, target); err != nil {
			t.Fatal(err)
		}
		grad, err := ce.Backward()
		if err != nil {
			t.Fatal(err)
		}

		const eps = 1e-6
		for i := range logits.Data {
			orig := logits.Data[i]
			logits.Data[i] = orig + eps
			plus, _ := NewCrossEntropy().Forward(logits, target)
			logits.Data[i] = orig - eps
			minus, _ := NewCrossEntropy().Forward(logits, target)
			logits.Data[i] = orig
			numeric := (plus - minus) / (2 * eps)
			if math.Abs(numeric-grad.Data[i]) > 1e-7 {
				t.Errorf("grad[%d] = %v, numeric %v", i, grad.Data[i], numeric)
			}
		}
	}
}

func TestCrossEntropyRejectsBadTargets(t *testing.T) {
	logits := tensor.New(2, 3)
	tests := []struct {
		name   string
		target *tensor.Tensor
	}{
		{"class out of range", mustTensor(t, []float64{0, 3}, 2)},
		{"negative class", mustTensor(t, []float64{-1, 0}, 2)},
		{"fractional class", mustTensor(t, []float64{0.5, 0}, 2)},
		{"batch mismatch", mustTensor(t, []float64{0, 1, 2}, 3)},
		{"width mismatch", tensor.New(2, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCrossEntropy().Forward(logits, tt.target); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestCrossEntropyBackwardBeforeForward(t *testing.T) {
	if _, err := NewCrossEntropy().Backward(); err == nil {
		t.Error("expected an error")
	}
}

func mustTensor(t *testing.T, data []float64, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromData(data, shape...)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

// softplusCE is -log softmax(z)[class] computed directly.
func softplusCE(z []float64, class int) float64 {
	sum := 0.0
	for _, v := range z {
		sum += math.Exp(v)
	}
	return math.Log(sum) - z[class]
}
