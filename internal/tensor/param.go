package tensor

// Param is a trainable parameter together with its accumulated gradient.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
}

// NewParam allocates a parameter with n values and a zeroed gradient.
func NewParam(name string, n int) *Param {
	return &Param{
		Name:  name,
		Value: make([]float64, n),
		Grad:  make([]float64, n),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Clone returns a deep copy of the parameter.
func (p *Param) Clone() *Param {
	return &Param{
		Name:  p.Name,
		Value: append([]float64(nil), p.Value...),
		Grad:  append([]float64(nil), p.Grad...),
	}
}

// ZeroGrads clears the gradients of every parameter.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
