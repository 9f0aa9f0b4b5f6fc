// Package output writes reconstructed packet streams.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/danmuck/abxctl/internal/protocol/packet"
)

const DefaultPath = "result.json"

// Sink receives the final ordered packet list of a successful run.
type Sink interface {
	Write(ctx context.Context, packets []packet.Packet) error
}

// Record is the document shape of one packet.
type Record struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int32  `json:"quantity"`
	Price    int32  `json:"price"`
	Sequence int32  `json:"sequence"`
}

func NewRecord(p packet.Packet) Record {
	return Record{
		Symbol:   p.Symbol,
		Side:     string(rune(p.Side)),
		Quantity: p.Quantity,
		Price:    p.Price,
		Sequence: p.Sequence,
	}
}

// Encode writes packets as an indented JSON array.
func Encode(w io.Writer, packets []packet.Packet) error {
	records := make([]Record, 0, len(packets))
	for _, p := range packets {
		records = append(records, NewRecord(p))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// JSONFile writes the document to Path, replacing any previous file.
type JSONFile struct {
	Path string
}

func NewJSONFile(path string) *JSONFile {
	if path == "" {
		path = DefaultPath
	}
	return &JSONFile{Path: path}
}

func (f *JSONFile) Write(ctx context.Context, packets []packet.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".abx-result-*.json")
	if err != nil {
		return fmt.Errorf("output: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Encode(tmp, packets); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("output: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("output: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("output: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return fmt.Errorf("output: rename: %w", err)
	}
	return nil
}

// Discard drops the packets.
type Discard struct{}

func (Discard) Write(context.Context, []packet.Packet) error { return nil }
