package metrics

import "math"

// fisherClamp keeps the Fisher transform finite at a perfect imbalance.
const fisherClamp = 0.999

func diff(a, b float64) float64 { return a - b }

func imbalance(a, b float64) float64 {
	s := a + b
	if s == 0 {
		return 0
	}
	return (a - b) / s
}

// signedImbalance is imbalance for quantities that can be negative.
func signedImbalance(a, b float64) float64 {
	s := math.Abs(a) + math.Abs(b)
	if s == 0 {
		return 0
	}
	return (a - b) / s
}

func logRatio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return math.Log(a / b)
}

func fisher(x float64) float64 {
	if x > fisherClamp {
		x = fisherClamp
	} else if x < -fisherClamp {
		x = -fisherClamp
	}
	return 0.5 * math.Log((1+x)/(1-x))
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
