// Package activations provides unit tests for activation functions.
package activations

import (
	"math"
	"testing"
)

// TestReLU tests ReLU activation.
func TestReLU(t *testing.T) {
	relu := ReLU{}

	tests := []struct {
		input    float64
		expected float64
	}{
		{-1.0, 0.0}, // Negative -> 0
		{0.0, 0.0},  // Zero -> 0
		{1.0, 1.0},  // Positive -> identity
		{2.5, 2.5},  // Larger positive -> identity
		{-0.1, 0.0}, // Small negative -> 0
	}

	for _, tt := range tests {
		output := relu.Activate(tt.input)
		if math.Abs(output-tt.expected) > 1e-12 {
			t.Errorf("ReLU(%v) = %v, want %v", tt.input, output, tt.expected)
		}
	}
}

// TestReLUDerivative tests ReLU derivative.
func TestReLUDerivative(t *testing.T) {
	relu := ReLU{}

	tests := []struct {
		input    float64
		expected float64
	}{
		{-1.0, 0.0}, // Negative -> 0
		{0.0, 0.0},  // At zero, derivative is 0 (x must be > 0)
		{1.0, 1.0},  // Positive -> 1
		{2.5, 1.0},  // Larger positive -> 1
	}

	for _, tt := range tests {
		output := relu.Derivative(tt.input)
		if output != tt.expected {
			t.Errorf("ReLU.Derivative(%v) = %v, want %v", tt.input, output, tt.expected)
		}
	}
}

// TestLinear tests the identity activation.
func TestLinear(t *testing.T) {
	lin := Linear{}
	for _, x := range []float64{-3, 0, 4.25} {
		if lin.Activate(x) != x {
			t.Errorf("Linear(%v) = %v", x, lin.Activate(x))
		}
		if lin.Derivative(x) != 1 {
			t.Errorf("Linear.Derivative(%v) = %v, want 1", x, lin.Derivative(x))
		}
	}
	if !IsLinear(nil) || !IsLinear(lin) || IsLinear(ReLU{}) {
		t.Error("IsLinear misclassified an activation")
	}
}
