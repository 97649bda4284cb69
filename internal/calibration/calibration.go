// Package calibration fits Steinhart-Hart coefficients to thermistor
// characterization data and applies the resulting curve.
//
// The model is 1/T = A + B·ln(R) + C·ln(R)³ with T in Kelvin and R in ohms.
package calibration

import (
	"errors"
	"fmt"
	"math"
)

const kelvinOffset = 273.15

var (
	// ErrTooFewPoints is returned when fewer than three reference points are supplied.
	ErrTooFewPoints = errors.New("calibration: need at least 3 reference points")
	// ErrSingular is returned when the normal equations have no unique solution,
	// typically because resistances are duplicated.
	ErrSingular = errors.New("calibration: singular system")
	// ErrInvalidPoint is returned for non-positive resistances or temperatures
	// at or below absolute zero.
	ErrInvalidPoint = errors.New("calibration: invalid reference point")
	// ErrDomain is returned when a resistance cannot be mapped to a temperature.
	ErrDomain = errors.New("calibration: value outside curve domain")
)

// Point is one thermistor characterization sample.
type Point struct {
	ResistanceOhms float64
	TempF          float64
}

// DefaultTable holds measured points from a Weber iGrill ambient probe.
var DefaultTable = []Point{
	{ResistanceOhms: 303950, TempF: 32.9},
	{ResistanceOhms: 324700, TempF: 33.1},
	{ResistanceOhms: 89000, TempF: 67.5},
	{ResistanceOhms: 27810, TempF: 134.2},
	{ResistanceOhms: 13260, TempF: 170.6},
}

// Coefficients are the fitted Steinhart-Hart parameters.
type Coefficients struct {
	A, B, C float64
}

// Fit solves for A, B and C by linear least squares over the given points.
// The normal equations are built from power sums of ln(R) up to degree six
// and solved by Gaussian elimination with partial pivoting.
func Fit(points []Point) (Coefficients, error) {
	if len(points) < 3 {
		return Coefficients{}, fmt.Errorf("%w: got %d", ErrTooFewPoints, len(points))
	}

	var sL, sL2, sL3, sL4, sL6 float64
	var sY, sYL, sYL3 float64
	for i, p := range points {
		if !(p.ResistanceOhms > 0) || math.IsInf(p.ResistanceOhms, 0) {
			return Coefficients{}, fmt.Errorf("%w: point %d resistance %v", ErrInvalidPoint, i, p.ResistanceOhms)
		}
		tk := FahrenheitToCelsius(p.TempF) + kelvinOffset
		if !(tk > 0) || math.IsInf(tk, 0) {
			return Coefficients{}, fmt.Errorf("%w: point %d temperature %v", ErrInvalidPoint, i, p.TempF)
		}

		y := 1.0 / tk
		l := math.Log(p.ResistanceOhms)
		l2 := l * l
		l3 := l2 * l

		sL += l
		sL2 += l2
		sL3 += l3
		sL4 += l2 * l2
		sL6 += l3 * l3

		sY += y
		sYL += y * l
		sYL3 += y * l3
	}

	m := [3][3]float64{
		{float64(len(points)), sL, sL3},
		{sL, sL2, sL4},
		{sL3, sL4, sL6},
	}
	v := [3]float64{sY, sYL, sYL3}

	x, err := solve3(m, v)
	if err != nil {
		return Coefficients{}, err
	}
	return Coefficients{A: x[0], B: x[1], C: x[2]}, nil
}

// solve3 runs Gaussian elimination with partial pivoting on a 3x3 system.
func solve3(m [3][3]float64, v [3]float64) ([3]float64, error) {
	const n = 3

	scale := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			scale = math.Max(scale, math.Abs(m[i][j]))
		}
	}
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return [3]float64{}, ErrSingular
	}
	tol := scale * 1e-12

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(m[pivot][col]) <= tol {
			return [3]float64{}, fmt.Errorf("%w: pivot %d is %g", ErrSingular, col, m[pivot][col])
		}
		m[col], m[pivot] = m[pivot], m[col]
		v[col], v[pivot] = v[pivot], v[col]

		for row := col + 1; row < n; row++ {
			f := m[row][col] / m[col][col]
			v[row] -= f * v[col]
			for k := col; k < n; k++ {
				m[row][k] -= f * m[col][k]
			}
		}
	}

	var x [3]float64
	for i := n - 1; i >= 0; i-- {
		sum := v[i]
		for j := i + 1; j < n; j++ {
			sum -= m[i][j] * x[j]
		}
		x[i] = sum / m[i][i]
	}
	for _, c := range x {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return [3]float64{}, ErrSingular
		}
	}
	return x, nil
}

// Celsius maps a thermistor resistance to a temperature on the fitted curve.
func (c Coefficients) Celsius(ohms float64) (float64, error) {
	if !(ohms > 0) || math.IsInf(ohms, 0) {
		return 0, fmt.Errorf("%w: resistance %v", ErrDomain, ohms)
	}
	l := math.Log(ohms)
	inv := c.A + c.B*l + c.C*l*l*l
	if inv == 0 || math.IsNaN(inv) || math.IsInf(inv, 0) {
		return 0, fmt.Errorf("%w: inverse temperature %v", ErrDomain, inv)
	}
	t := 1.0/inv - kelvinOffset
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("%w: temperature %v", ErrDomain, t)
	}
	return t, nil
}

// FahrenheitToCelsius converts °F to °C.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32.0) * 5.0 / 9.0
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}
