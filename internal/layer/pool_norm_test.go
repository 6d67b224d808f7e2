package layer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

func TestMaxPool2DForward(t *testing.T) {
	pool := NewMaxPool2D(2, 2, 2, 2, 0, 0, false)

	// 1  2  3  4
	// 5  6  7  8
	// 9  10 11 12
	// 13 14 15 16
	x, _ := tensor.FromData([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, 1, 1, 4, 4)
	out, err := pool.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{6, 8, 14, 16}
	for i, v := range expected {
		if out.Data[i] != v {
			t.Errorf("out[%d] = %v, expected %v", i, out.Data[i], v)
		}
	}

	grad, _ := tensor.FromData([]float64{1, 2, 3, 4}, 1, 1, 2, 2)
	gradIn, err := pool.Backward(grad)
	if err != nil {
		t.Fatal(err)
	}
	// winners sit at flat positions 5, 7, 13, 15
	for idx, want := range map[int]float64{5: 1, 7: 2, 13: 3, 15: 4, 0: 0} {
		if gradIn.Data[idx] != want {
			t.Errorf("gradIn[%d] = %v, expected %v", idx, gradIn.Data[idx], want)
		}
	}
}

func TestMaxPool2DCeilMode(t *testing.T) {
	tests := []struct {
		name     string
		in       []int
		ceil     bool
		expected []int
	}{
		{"even width", []int{4, 1, 24}, true, []int{4, 1, 12}},
		{"odd width ceil", []int{4, 1, 5}, true, []int{4, 1, 3}},
		{"odd width floor", []int{4, 1, 5}, false, []int{4, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewMaxPool2D(1, 2, 2, 2, 0, 0, tt.ceil)
			shape, err := pool.OutShape(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			for i := range tt.expected {
				if shape[i] != tt.expected[i] {
					t.Fatalf("OutShape(%v) = %v, expected %v", tt.in, shape, tt.expected)
				}
			}
		})
	}

	pool := NewMaxPool2D(1, 2, 2, 2, 0, 0, true)
	x, _ := tensor.FromData([]float64{1, 5, 2, 3, 9}, 1, 1, 1, 5)
	out, err := pool.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	// the last window only covers the final column
	expected := []float64{5, 3, 9}
	for i, v := range expected {
		if out.Data[i] != v {
			t.Errorf("out[%d] = %v, expected %v", i, out.Data[i], v)
		}
	}
}

func TestMaxPool2DPaddedStem(t *testing.T) {
	pool := NewMaxPool2D(3, 3, 2, 2, 1, 1, false)
	shape, err := pool.OutShape([]int{64, 112, 112})
	if err != nil {
		t.Fatal(err)
	}
	if shape[1] != 56 || shape[2] != 56 {
		t.Errorf("OutShape = %v, expected [64 56 56]", shape)
	}
	checkGradients(t, pool, randomTensor(rand.New(rand.NewSource(21)), 2, 2, 5, 5), 1e-6)
}

func TestBatchNorm2DNormalizesBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	bn := NewBatchNorm2D(3, 1e-5, 0.1)
	x := randomTensor(rng, 4, 3, 2, 2)
	for i := range x.Data {
		x.Data[i] = x.Data[i]*3 + 5
	}

	out, err := bn.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	for c := 0; c < 3; c++ {
		var vals []float64
		for n := 0; n < 4; n++ {
			base := (n*3 + c) * 4
			vals = append(vals, out.Data[base:base+4]...)
		}
		mean, sq := 0.0, 0.0
		for _, v := range vals {
			mean += v
		}
		mean /= float64(len(vals))
		for _, v := range vals {
			sq += (v - mean) * (v - mean)
		}
		if math.Abs(mean) > 1e-9 || math.Abs(sq/float64(len(vals))-1) > 1e-3 {
			t.Errorf("channel %d: mean %v var %v, expected 0 and 1", c, mean, sq/float64(len(vals)))
		}
		if bn.RunningMean()[c] < 0.3 || bn.RunningMean()[c] > 0.7 {
			t.Errorf("running mean[%d] = %v, expected about 0.1*5", c, bn.RunningMean()[c])
		}
	}
}

func TestBatchNorm2DEvalUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm2D(1, 0, 0.1)
	bn.SetTraining(false)
	x, _ := tensor.FromData([]float64{1, 2, 3, 4}, 1, 1, 2, 2)
	out, err := bn.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	// running mean 0 and variance 1 leave values unchanged
	for i, v := range x.Data {
		if math.Abs(out.Data[i]-v) > 1e-12 {
			t.Errorf("out[%d] = %v, expected %v", i, out.Data[i], v)
		}
	}
	if bn.RunningMean()[0] != 0 {
		t.Error("evaluation must not update running statistics")
	}
}

func TestBatchNorm2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	bn := NewBatchNorm2D(2, 1e-5, 0.1)
	checkGradients(t, bn, randomTensor(rng, 3, 2, 2, 2), 1e-4)

	bn.SetTraining(false)
	checkGradients(t, bn, randomTensor(rng, 3, 2, 2, 2), 1e-5)
}

func TestBottleneckShortcut(t *testing.T) {
	rng := rand.New(rand.NewSource(24))

	identity := NewBottleneck(8, 2, 1, rng)
	if len(identity.shortcut) != 0 {
		t.Error("matching channels and unit stride should use the identity shortcut")
	}
	shape, err := identity.OutShape([]int{8, 4, 4})
	if err != nil {
		t.Fatal(err)
	}
	if shape[0] != 8 || shape[1] != 4 || shape[2] != 4 {
		t.Errorf("identity OutShape = %v, expected [8 4 4]", shape)
	}

	projected := NewBottleneck(4, 2, 2, rng)
	if len(projected.shortcut) == 0 {
		t.Fatal("strided block needs a projection shortcut")
	}
	shape, err = projected.OutShape([]int{4, 6, 6})
	if err != nil {
		t.Fatal(err)
	}
	if shape[0] != 8 || shape[1] != 3 || shape[2] != 3 {
		t.Errorf("projected OutShape = %v, expected [8 3 3]", shape)
	}

	out, err := projected.Forward(randomTensor(rng, 2, 4, 6, 6))
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out.Data {
		if v < 0 {
			t.Fatalf("out[%d] = %v, expected ReLU output", i, v)
		}
	}
}

func TestBottleneckGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(25))
	block := NewBottleneck(2, 1, 2, rng)
	block.SetTraining(false)
	checkGradients(t, block, randomTensor(rng, 2, 2, 4, 4), 1e-4)
}

func TestBottleneckPropagatesFlags(t *testing.T) {
	block := NewBottleneck(4, 1, 1, rand.New(rand.NewSource(26)))
	block.SetAutotune(true)
	block.SetTraining(false)
	for _, l := range block.Layers() {
		switch v := l.(type) {
		case *Conv2D:
			if !v.autotune {
				t.Errorf("%s: autotune not propagated", v.Name())
			}
		case *BatchNorm2D:
			if v.training {
				t.Errorf("%s: evaluation mode not propagated", v.Name())
			}
		}
	}

	clone := block.Clone().(*Residual)
	if len(clone.Params()) != len(block.Params()) {
		t.Error("clone must carry every parameter")
	}
	clone.Params()[0].Value[0] = 99
	if block.Params()[0].Value[0] == 99 {
		t.Error("clone shares parameters with the original")
	}
}
