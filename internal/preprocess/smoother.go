package preprocess

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"tileseam/internal/raster"
)

// Smoother reduces a composite to the model's temporal length.
type Smoother interface {
	Smooth(c *raster.Cube) (*raster.Cube, error)
}

// WhittakerSmoother applies a second-order Whittaker smoother to every
// pixel's series and averages the result into equal blocks. Smoothing and
// reduction are one linear map, precomputed at construction.
type WhittakerSmoother struct {
	in, out int
	op      []float64 // out×in, row-major
}

// NewWhittakerSmoother builds the smoother for series of length in, reduced
// to out steps. in must be a multiple of out.
func NewWhittakerSmoother(lambda float64, in, out int) (*WhittakerSmoother, error) {
	if in < 3 || out <= 0 || in%out != 0 {
		return nil, fmt.Errorf("whittaker: cannot reduce %d steps to %d", in, out)
	}

	// (I + λ DᵀD) z = y with D the second-difference operator.
	d := mat.NewDense(in-2, in, nil)
	for i := 0; i < in-2; i++ {
		d.Set(i, i, 1)
		d.Set(i, i+1, -2)
		d.Set(i, i+2, 1)
	}
	var dtd mat.Dense
	dtd.Mul(d.T(), d)
	sys := mat.NewSymDense(in, nil)
	for i := 0; i < in; i++ {
		for j := i; j < in; j++ {
			v := lambda * dtd.At(i, j)
			if i == j {
				v++
			}
			sys.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sys); !ok {
		return nil, fmt.Errorf("whittaker: system with lambda %g is not positive definite", lambda)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("whittaker: invert system: %w", err)
	}

	block := in / out
	avg := mat.NewDense(out, in, nil)
	for r := 0; r < out; r++ {
		for j := 0; j < block; j++ {
			avg.Set(r, r*block+j, 1/float64(block))
		}
	}
	var op mat.Dense
	op.Mul(avg, &inv)

	return &WhittakerSmoother{in: in, out: out, op: op.RawMatrix().Data}, nil
}

// DefaultSmoother is the production configuration: λ=800 over the 72-step
// composite, reduced to 12 steps.
func DefaultSmoother() *WhittakerSmoother {
	s, err := NewWhittakerSmoother(800, CompositeSteps, TensorSteps)
	if err != nil {
		panic(fmt.Sprintf("default smoother: %v", err))
	}
	return s
}

func (s *WhittakerSmoother) Smooth(c *raster.Cube) (*raster.Cube, error) {
	if c.T != s.in {
		return nil, fmt.Errorf("whittaker: expected %d steps, got %d", s.in, c.T)
	}
	frame := c.H * c.W * c.C
	out := raster.NewCube(s.out, c.H, c.W, c.C)
	series := make([]float64, s.in)
	for i := 0; i < frame; i++ {
		for t := 0; t < s.in; t++ {
			series[t] = float64(c.Data[t*frame+i])
		}
		for r := 0; r < s.out; r++ {
			row := s.op[r*s.in : (r+1)*s.in]
			var acc float64
			for t, v := range series {
				acc += row[t] * v
			}
			out.Data[r*frame+i] = float32(acc)
		}
	}
	return out, nil
}
