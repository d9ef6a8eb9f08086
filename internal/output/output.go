// Package output writes computed control flow graphs to files.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"

	"cfgbuild/internal/cfg"
)

// ErrNotComputed is returned when recording a graph before Recompute.
var ErrNotComputed = errors.New("output: graph not computed")

// BlockRecord is one block of a CFGRecord.
type BlockRecord struct {
	ID    int      `json:"id"`
	Start int      `json:"start"`
	End   int      `json:"end"`
	Succs []int    `json:"succs"`
	Preds []int    `json:"preds"`
	Insts []string `json:"insts,omitempty"`
}

// CFGRecord is the serialized form of one graph; one line in cfgs.jsonl.
type CFGRecord struct {
	Name      string        `json:"name"`
	NumInstrs int           `json:"num_instrs"`
	Entry     int           `json:"entry"`
	Exit      int           `json:"exit"`
	Blocks    []BlockRecord `json:"blocks"`
}

// NewRecord snapshots a computed graph. Instructions that implement
// Text() string are listed per block.
func NewRecord(name string, g *cfg.Cfg) (CFGRecord, error) {
	if !g.Computed() {
		return CFGRecord{}, ErrNotComputed
	}
	code := g.Code()
	rec := CFGRecord{
		Name:      name,
		NumInstrs: code.Len(),
		Entry:     g.Entry(),
		Exit:      g.Exit(),
	}
	for id := 0; id < g.NumBlocks(); id++ {
		start, end := g.Range(id)
		br := BlockRecord{
			ID:    id,
			Start: start,
			End:   end,
			Succs: nonNil(slices.Collect(g.Succs(id))),
			Preds: nonNil(slices.Collect(g.Preds(id))),
		}
		for i := start; i < end; i++ {
			if tx, ok := code.At(i).(interface{ Text() string }); ok {
				br.Insts = append(br.Insts, tx.Text())
			}
		}
		rec.Blocks = append(rec.Blocks, br)
	}
	return rec, nil
}

// Empty edge lists serialize as [] rather than null.
func nonNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}

// WriteCFGJSON writes rec to <dir>/<name>.json.
// name may contain path separators for directory grouping.
func WriteCFGJSON(dir, name string, rec CFGRecord) error {
	return writeJSON(filepath.Join(dir, name+".json"), rec)
}

// WriteDOT writes a rendered graph to <dir>/<name>.dot.
func WriteDOT(dir, name, dot string) error {
	path := filepath.Join(dir, name+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, []byte(dot), 0644)
}

// WriteText writes plain text to <dir>/<file>.
func WriteText(dir, file, text string) error {
	path := filepath.Join(dir, file)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, []byte(text), 0644)
}

// JSONLWriter writes one JSON value per line.
type JSONLWriter struct {
	enc *json.Encoder
	n   int
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

// Write encodes v as a single line.
func (w *JSONLWriter) Write(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode record %d: %w", w.n, err)
	}
	w.n++
	return nil
}

// Count returns the number of records written.
func (w *JSONLWriter) Count() int { return w.n }

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
