package transform

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// AffineMap is an ITK MatrixOffsetTransform in LPS physical space:
// y = M(x - C) + T + C.
type AffineMap struct {
	// Matrix is row-major
	Matrix      [9]float64
	Translation r3.Vec
	Center      r3.Vec
}

// IdentityAffine returns the identity map
func IdentityAffine() AffineMap {
	return AffineMap{Matrix: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// AffineFromParameters builds the map from the 12 ITK parameters (matrix
// row-major, then translation) and the 3 fixed parameters (center).
func AffineFromParameters(params, fixed []float64) (AffineMap, error) {
	if len(params) != 12 {
		return AffineMap{}, fmt.Errorf("affine needs 12 parameters, got %d", len(params))
	}
	var a AffineMap
	copy(a.Matrix[:], params[:9])
	a.Translation = r3.Vec{X: params[9], Y: params[10], Z: params[11]}
	switch len(fixed) {
	case 0:
	case 3:
		a.Center = r3.Vec{X: fixed[0], Y: fixed[1], Z: fixed[2]}
	default:
		return AffineMap{}, fmt.Errorf("affine needs 3 fixed parameters, got %d", len(fixed))
	}
	return a, nil
}

func (a AffineMap) mul(v r3.Vec) r3.Vec {
	m := a.Matrix
	return r3.Vec{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// Apply maps a point forward
func (a AffineMap) Apply(p r3.Vec) r3.Vec {
	return r3.Add(r3.Add(a.mul(r3.Sub(p, a.Center)), a.Translation), a.Center)
}

// Inverse returns the inverse map, keeping the same center
func (a AffineMap) Inverse() (AffineMap, error) {
	m := mat.NewDense(3, 3, append([]float64(nil), a.Matrix[:]...))
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return AffineMap{}, errors.Wrap(err, "affine matrix is not invertible")
	}
	out := AffineMap{Center: a.Center}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Matrix[3*r+c] = inv.At(r, c)
		}
	}
	// x = M⁻¹(y - T - C) + C, so T' = -M⁻¹T
	out.Translation = r3.Scale(-1, out.mul(a.Translation))
	return out, nil
}

// ReadAffineFile reads an ITK text transform or an ANTs MATLAB v4 affine,
// chosen by extension.
func ReadAffineFile(path string) (AffineMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AffineMap{}, errors.Wrapf(err, "reading affine %s", path)
	}
	var a AffineMap
	if strings.HasSuffix(strings.ToLower(path), ".mat") {
		a, err = ParseMatV4Affine(data)
	} else {
		a, err = ParseITKAffine(data)
	}
	if err != nil {
		return AffineMap{}, errors.Wrapf(err, "parsing affine %s", path)
	}
	return a, nil
}

// ParseITKAffine parses the first transform of an "#Insight Transform File"
// text document. Only affine-family transforms are accepted.
func ParseITKAffine(data []byte) (AffineMap, error) {
	var (
		kind          string
		params, fixed []float64
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, val, ok := strings.Cut(line, ":")
		if !ok || strings.HasPrefix(line, "#") {
			continue
		}
		var err error
		switch strings.TrimSpace(key) {
		case "Transform":
			if kind != "" {
				// only the first transform is read
				return finishITK(kind, params, fixed)
			}
			kind = strings.TrimSpace(val)
		case "Parameters":
			params, err = parseFloats(val)
		case "FixedParameters":
			fixed, err = parseFloats(val)
		}
		if err != nil {
			return AffineMap{}, err
		}
	}
	if err := sc.Err(); err != nil {
		return AffineMap{}, err
	}
	return finishITK(kind, params, fixed)
}

func finishITK(kind string, params, fixed []float64) (AffineMap, error) {
	if kind == "" {
		return AffineMap{}, fmt.Errorf("no transform found")
	}
	if !isAffineKind(kind) {
		return AffineMap{}, fmt.Errorf("unsupported transform type %s", kind)
	}
	return AffineFromParameters(params, fixed)
}

func isAffineKind(name string) bool {
	return strings.HasPrefix(name, "AffineTransform") || strings.HasPrefix(name, "MatrixOffsetTransformBase")
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

// maxMatV4Values bounds a variable's element count: the largest an ANTs
// affine file holds is the 3x3 matrix plus translation.
const maxMatV4Values = 12

// matV4Header is the fixed part of a MATLAB level 4 variable
type matV4Header struct {
	Type   int32
	Rows   int32
	Cols   int32
	Imag   int32
	NameLn int32
}

// ParseMatV4Affine parses the MATLAB v4 file ANTs writes for affine
// transforms: a 12-element parameter variable named after the transform
// type and a 3-element "fixed" center.
func ParseMatV4Affine(data []byte) (AffineMap, error) {
	vars, err := readMatV4(data)
	if err != nil {
		return AffineMap{}, err
	}
	var params []float64
	for name, v := range vars {
		if isAffineKind(name) {
			params = v
			break
		}
	}
	if params == nil {
		return AffineMap{}, fmt.Errorf("no affine parameters in MAT file")
	}
	return AffineFromParameters(params, vars["fixed"])
}

func readMatV4(data []byte) (map[string][]float64, error) {
	r := bytes.NewReader(data)
	vars := make(map[string][]float64)
	for r.Len() > 0 {
		var h matV4Header
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			return nil, fmt.Errorf("reading MAT header: %w", err)
		}
		var order binary.ByteOrder = binary.LittleEndian
		if h.Type < 0 || h.Type > 4052 {
			// big-endian files have M=1 and decode as garbage in little endian
			if _, err := r.Seek(-20, io.SeekCurrent); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.BigEndian, &h); err != nil {
				return nil, fmt.Errorf("reading MAT header: %w", err)
			}
			order = binary.BigEndian
		}
		if h.Imag != 0 {
			return nil, fmt.Errorf("complex MAT variables are not supported")
		}
		if h.Rows < 0 || h.Cols < 0 || h.NameLn <= 0 || int(h.NameLn) > r.Len() {
			return nil, fmt.Errorf("corrupt MAT header")
		}
		name := make([]byte, h.NameLn)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		key := string(bytes.TrimRight(name, "\x00"))
		if h.Rows > maxMatV4Values || h.Cols > maxMatV4Values || int(h.Rows)*int(h.Cols) > maxMatV4Values {
			return nil, fmt.Errorf("MAT variable %q is %dx%d, larger than an affine transform", key, h.Rows, h.Cols)
		}
		n := int(h.Rows) * int(h.Cols)
		prec := (h.Type / 10) % 10
		elemSize := 8
		if prec == 1 {
			elemSize = 4
		}
		if n*elemSize > r.Len() {
			return nil, fmt.Errorf("MAT variable %q is truncated: %d values need %d bytes, %d left", key, n, n*elemSize, r.Len())
		}
		vals := make([]float64, n)
		switch prec {
		case 0:
			if err := binary.Read(r, order, vals); err != nil {
				return nil, fmt.Errorf("reading MAT data: %w", err)
			}
		case 1:
			buf := make([]float32, n)
			if err := binary.Read(r, order, buf); err != nil {
				return nil, fmt.Errorf("reading MAT data: %w", err)
			}
			for i, f := range buf {
				vals[i] = float64(f)
			}
		default:
			return nil, fmt.Errorf("unsupported MAT precision %d", prec)
		}
		vars[key] = vals
	}
	return vars, nil
}
