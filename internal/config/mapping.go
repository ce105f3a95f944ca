package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ButtonMapping maps a position on the controller to a console executor
// index, one ordered table per wing layout.
type ButtonMapping map[int][]int

// Lookup returns the executor at position k of the wing table.
func (m ButtonMapping) Lookup(wing, k int) (int, bool) {
	table, ok := m[wing]
	if !ok || k < 0 || k >= len(table) {
		return 0, false
	}
	return table[k], true
}

// IndexOf returns the first position mapped to exec in the wing table.
func (m ButtonMapping) IndexOf(wing, exec int) (int, bool) {
	for k, v := range m[wing] {
		if v == exec {
			return k, true
		}
	}
	return 0, false
}

func sequentialMapping(n int) ButtonMapping {
	m := make(ButtonMapping, 3)
	for wing := 1; wing <= 3; wing++ {
		table := make([]int, n)
		for i := range table {
			table[i] = i + 1
		}
		m[wing] = table
	}
	return m
}

// CurvePoint is one breakpoint of the fader response: a raw controller
// value and the normalized output it produces.
type CurvePoint struct {
	In  int
	Out float64
}

// UnmarshalYAML accepts the compact `[in, out]` form.
func (p *CurvePoint) UnmarshalYAML(node *yaml.Node) error {
	var pair []float64
	if err := node.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("line %d: fader curve point needs [in, out], got %d values", node.Line, len(pair))
	}
	p.In = int(pair[0])
	p.Out = pair[1]
	return nil
}

// defaultCurvePoints is the stock 8-step ramp: value*8 maps to value*8/127,
// topping out at 127 -> 1.0.
func defaultCurvePoints() []CurvePoint {
	var pts []CurvePoint
	for v := 0; v < 128; v += 8 {
		pts = append(pts, CurvePoint{In: v, Out: float64(v) / 127})
	}
	return append(pts, CurvePoint{In: 127, Out: 1})
}

// FaderCurve holds the normalized output for every raw value 0..127.
type FaderCurve [128]float64

// Value maps a raw controller value. Values outside 0..127 clamp.
func (f FaderCurve) Value(raw int) float64 {
	switch {
	case raw < 0:
		raw = 0
	case raw > 127:
		raw = 127
	}
	return f[raw]
}

func checkCurvePoints(pts []CurvePoint) error {
	if len(pts) == 0 {
		return errors.New("fader_curve: at least one point required")
	}
	for i, p := range pts {
		if p.In < 0 || p.In > 127 {
			return fmt.Errorf("fader_curve[%d]: input %d outside 0..127", i, p.In)
		}
		if p.Out < 0 || p.Out > 1 {
			return fmt.Errorf("fader_curve[%d]: output %g outside 0..1", i, p.Out)
		}
		if i == 0 {
			continue
		}
		prev := pts[i-1]
		if p.In <= prev.In {
			return fmt.Errorf("fader_curve[%d]: input %d not above %d", i, p.In, prev.In)
		}
		if p.Out < prev.Out {
			return fmt.Errorf("fader_curve[%d]: output %g decreases from %g", i, p.Out, prev.Out)
		}
	}
	return nil
}

// buildCurve interpolates linearly between breakpoints. Inputs below the
// first point take its output, inputs above the last take the last.
// pts must have passed checkCurvePoints.
func buildCurve(pts []CurvePoint) FaderCurve {
	var f FaderCurve
	seg := 0
	for raw := range f {
		for seg+1 < len(pts) && pts[seg+1].In <= raw {
			seg++
		}
		p := pts[seg]
		switch {
		case raw <= p.In || seg+1 == len(pts):
			f[raw] = p.Out
		default:
			next := pts[seg+1]
			t := float64(raw-p.In) / float64(next.In-p.In)
			f[raw] = p.Out + t*(next.Out-p.Out)
		}
	}
	return f
}
