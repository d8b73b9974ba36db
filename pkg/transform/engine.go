package transform

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// PointEngine applies one local transform file to LPS physical points
type PointEngine interface {
	Name() string
	Supports(kind Kind) bool
	Apply(ctx context.Context, path string, inverse bool, points []r3.Vec) ([]r3.Vec, error)
}

// AffineEngine applies ITK and ANTs affine files natively
type AffineEngine struct{}

func (AffineEngine) Name() string { return "affine" }

func (AffineEngine) Supports(kind Kind) bool { return kind == Affine }

func (AffineEngine) Apply(_ context.Context, path string, inverse bool, points []r3.Vec) ([]r3.Vec, error) {
	a, err := ReadAffineFile(path)
	if err != nil {
		return nil, err
	}
	if inverse {
		if a, err = a.Inverse(); err != nil {
			return nil, errors.Wrapf(err, "inverting %s", path)
		}
	}
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = a.Apply(p)
	}
	return out, nil
}

// DefaultPointsCommand is the ANTs tool used by CommandEngine
const DefaultPointsCommand = "antsApplyTransformsToPoints"

// CommandEngine delegates to antsApplyTransformsToPoints, which reads and
// writes points as CSV with an x,y,z,t header.
type CommandEngine struct {
	// Command is the executable; empty uses DefaultPointsCommand
	Command string
	// WorkDir holds the temporary CSV files; empty uses the OS temp dir
	WorkDir string
}

func (e CommandEngine) Name() string { return e.command() }

func (CommandEngine) Supports(kind Kind) bool { return true }

// IsAvailable reports whether the command is on PATH
func (e CommandEngine) IsAvailable() bool {
	_, err := exec.LookPath(e.command())
	return err == nil
}

func (e CommandEngine) command() string {
	if e.Command == "" {
		return DefaultPointsCommand
	}
	return e.Command
}

func (e CommandEngine) Apply(ctx context.Context, path string, inverse bool, points []r3.Vec) ([]r3.Vec, error) {
	dir, err := os.MkdirTemp(e.WorkDir, "points-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(in, encodePointsCSV(points), 0644); err != nil {
		return nil, err
	}

	flag := 0
	if inverse {
		flag = 1
	}
	cmd := exec.CommandContext(ctx, e.command(), "-d", "3", "-i", in, "-o", out, "-t", fmt.Sprintf("[%s,%d]", path, flag))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "%s: %s", e.command(), bytes.TrimSpace(stderr.Bytes()))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, err
	}
	res, err := decodePointsCSV(data)
	if err != nil {
		return nil, err
	}
	if len(res) != len(points) {
		return nil, fmt.Errorf("%s returned %d points for %d inputs", e.command(), len(res), len(points))
	}
	return res, nil
}

func encodePointsCSV(points []r3.Vec) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"x", "y", "z", "t"})
	for _, p := range points {
		_ = w.Write([]string{fmtFloat(p.X), fmtFloat(p.Y), fmtFloat(p.Z), "0"})
	}
	w.Flush()
	return buf.Bytes()
}

func decodePointsCSV(data []byte) ([]r3.Vec, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading points CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("points CSV has no header")
	}
	out := make([]r3.Vec, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 3 {
			return nil, fmt.Errorf("points CSV row %d has %d columns", i+1, len(row))
		}
		var v [3]float64
		for j := range v {
			if v[j], err = strconv.ParseFloat(row[j], 64); err != nil {
				return nil, fmt.Errorf("points CSV row %d: %w", i+1, err)
			}
		}
		out = append(out, r3.Vec{X: v[0], Y: v[1], Z: v[2]})
	}
	return out, nil
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
