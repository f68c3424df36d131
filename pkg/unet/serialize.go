package unet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// weightsMagic marks a serialized network file; weightsVersion guards
// against loading files written by an incompatible layout.
const (
	weightsMagic   uint32 = 0x43545547 // "CTUG"
	weightsVersion uint32 = 1
)

// blobs lists every float slice that defines the trained model, in the
// fixed paramLayers order. Batch-norm running statistics are included
// so a reloaded model predicts identically to the one saved.
func (n *Net) blobs() [][]float64 {
	var out [][]float64
	for _, pl := range n.paramLayers() {
		out = append(out, pl.Params()...)
		if bn, ok := pl.(*BatchNorm); ok {
			out = append(out, bn.RunningMean, bn.RunningVar)
		}
	}
	return out
}

// Save writes the network architecture and weights to w.
func (n *Net) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)

	header := []interface{}{
		weightsMagic,
		weightsVersion,
		int32(n.cfg.InputSize),
		int32(n.cfg.BaseFilters),
		n.cfg.Dropout,
		n.cfg.Seed,
	}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write weights header: %w", err)
		}
	}

	blobs := n.blobs()
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(blobs))); err != nil {
		return fmt.Errorf("failed to write blob count: %w", err)
	}
	for i, blob := range blobs {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(blob))); err != nil {
			return fmt.Errorf("failed to write blob %d length: %w", i, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, blob); err != nil {
			return fmt.Errorf("failed to write blob %d: %w", i, err)
		}
	}

	return bw.Flush()
}

// SaveFile writes the network to a single weights file on disk.
func (n *Net) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	defer f.Close()

	if err := n.Save(f); err != nil {
		return err
	}
	return f.Sync()
}

// Load reads a network saved by Save, rebuilding the architecture from
// the stored configuration.
func Load(r io.Reader) (*Net, error) {
	br := bufio.NewReader(r)

	var magic, version uint32
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("failed to read weights header: %w", err)
	}
	if magic != weightsMagic {
		return nil, fmt.Errorf("not a network weights file (magic %#x)", magic)
	}
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to read weights version: %w", err)
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("unsupported weights version %d", version)
	}

	var inputSize, baseFilters int32
	var dropout float64
	var seed int64
	for _, v := range []interface{}{&inputSize, &baseFilters, &dropout, &seed} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("failed to read architecture: %w", err)
		}
	}

	n, err := New(Config{
		InputSize:   int(inputSize),
		BaseFilters: int(baseFilters),
		Dropout:     dropout,
		Seed:        seed,
	})
	if err != nil {
		return nil, fmt.Errorf("stored architecture is invalid: %w", err)
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read blob count: %w", err)
	}
	blobs := n.blobs()
	if int(count) != len(blobs) {
		return nil, fmt.Errorf("weights file has %d blobs, architecture needs %d", count, len(blobs))
	}

	for i, blob := range blobs {
		var length uint32
		if err := binary.Read(br, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("failed to read blob %d length: %w", i, err)
		}
		if int(length) != len(blob) {
			return nil, fmt.Errorf("blob %d has %d values, want %d", i, length, len(blob))
		}
		if err := binary.Read(br, binary.LittleEndian, blob); err != nil {
			return nil, fmt.Errorf("failed to read blob %d: %w", i, err)
		}
	}

	return n, nil
}

// LoadFile reads a network from a weights file on disk.
func LoadFile(path string) (*Net, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open weights file: %w", err)
	}
	defer f.Close()

	return Load(f)
}
