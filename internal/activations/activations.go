// Package activations provides element-wise activation functions.
package activations

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) from the pre-activation value x
	Derivative(x float64) float64

	Name() string
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func (r ReLU) Name() string { return "relu" }

// Linear is the identity activation.
type Linear struct{}

func (l Linear) Activate(x float64) float64   { return x }
func (l Linear) Derivative(x float64) float64 { return 1 }
func (l Linear) Name() string                 { return "linear" }

// IsLinear reports whether act leaves values untouched.
func IsLinear(act Activation) bool {
	if act == nil {
		return true
	}
	_, ok := act.(Linear)
	return ok
}
