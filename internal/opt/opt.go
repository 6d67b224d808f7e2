// Package opt provides optimization algorithms bound to parameter sets.
package opt

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

var (
	// ErrUnsupportedOptimizer is returned for optimizer names other than SGD and Adam.
	ErrUnsupportedOptimizer = errors.New("opt: unsupported optimizer")
	// ErrHyperparameter is returned for out-of-range learning rates or momenta.
	ErrHyperparameter = errors.New("opt: invalid hyperparameter")
)

// Config holds optimizer hyperparameters. Momentum is only read by SGD.
type Config struct {
	LR       float64 `json:"lr" yaml:"lr"`
	Momentum float64 `json:"momentum" yaml:"momentum"`
}

// Optimizer updates a fixed set of parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update using the current gradients.
	Step()

	// ZeroGrad clears the gradients of every bound parameter.
	ZeroGrad()

	Name() string
}

// New builds the optimizer named optType over params.
func New(optType string, conf Config, params []*tensor.Param) (Optimizer, error) {
	if conf.LR < 0 || math.IsNaN(conf.LR) {
		return nil, errors.Wrapf(ErrHyperparameter, "lr %v", conf.LR)
	}
	switch optType {
	case "SGD":
		if conf.Momentum < 0 || math.IsNaN(conf.Momentum) {
			return nil, errors.Wrapf(ErrHyperparameter, "momentum %v", conf.Momentum)
		}
		return NewSGD(params, conf.LR, conf.Momentum), nil
	case "Adam":
		return NewAdam(params, conf.LR), nil
	}
	return nil, errors.Wrapf(ErrUnsupportedOptimizer, "%q", optType)
}

// SGD is stochastic gradient descent with optional momentum:
//
//	buf = momentum*buf + grad
//	param -= lr * buf
type SGD struct {
	LearningRate float64
	Momentum     float64

	params   []*tensor.Param
	velocity [][]float64
}

// NewSGD creates an SGD optimizer over params.
func NewSGD(params []*tensor.Param, lr, momentum float64) *SGD {
	s := &SGD{LearningRate: lr, Momentum: momentum, params: params}
	if momentum != 0 {
		s.velocity = make([][]float64, len(params))
		for i, p := range params {
			s.velocity[i] = make([]float64, len(p.Value))
		}
	}
	return s
}

// Step updates params in place.
func (s *SGD) Step() {
	for i, p := range s.params {
		if s.Momentum == 0 {
			floats.AddScaled(p.Value, -s.LearningRate, p.Grad)
			continue
		}
		buf := s.velocity[i]
		floats.Scale(s.Momentum, buf)
		floats.Add(buf, p.Grad)
		floats.AddScaled(p.Value, -s.LearningRate, buf)
	}
}

func (s *SGD) ZeroGrad() { tensor.ZeroGrads(s.params) }

func (s *SGD) Name() string { return "SGD" }

// Adam optimizer with bias-corrected moment estimates.
type Adam struct {
	LearningRate float64
	Beta1        float64 // Exponential decay rate for first moment
	Beta2        float64 // Exponential decay rate for second moment
	Epsilon      float64 // Small constant for numerical stability

	params []*tensor.Param
	m, v   [][]float64
	t      int
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(params []*tensor.Param, learningRate float64) *Adam {
	a := &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		params:       params,
		m:            make([][]float64, len(params)),
		v:            make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Value))
		a.v[i] = make([]float64, len(p.Value))
	}
	return a
}

// Step updates params in place.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g*g
			mhat := m[j] / bc1
			vhat := v[j] / bc2
			p.Value[j] -= a.LearningRate * mhat / (math.Sqrt(vhat) + a.Epsilon)
		}
	}
}

func (a *Adam) ZeroGrad() { tensor.ZeroGrads(a.params) }

func (a *Adam) Name() string { return "Adam" }
