package core

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"sisort/pkg/common"
	"sisort/pkg/model"
)

const snapshotVersion = 1

type snapshot struct {
	Version    int
	Boundaries []float64
	Trees      []*model.Tree
	Entropy    []float64
}

// Save writes the trained model to w.
func (s *Sorter) Save(w io.Writer) error {
	enc := gob.NewEncoder(w)
	return enc.Encode(&snapshot{
		Version:    snapshotVersion,
		Boundaries: s.bounds,
		Trees:      s.trees,
		Entropy:    s.entropy,
	})
}

// Load reads a model written by Save and checks it before use. opts
// configure steady-state sorting.
func Load(r io.Reader, opts ...Option) (*Sorter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	var snap snapshot
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&snap); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	if snap.Version != snapshotVersion {
		return nil, common.DataErrorf("snapshot version %d, want %d", snap.Version, snapshotVersion)
	}
	b := model.Boundaries(snap.Boundaries)
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if len(snap.Trees) == 0 {
		return nil, common.DataErrorf("snapshot holds no trees")
	}
	for i, t := range snap.Trees {
		if t == nil {
			return nil, common.DataErrorf("tree %d is missing", i)
		}
		if err := t.Validate(b); err != nil {
			return nil, errors.Wrapf(err, "tree %d", i)
		}
	}
	if len(snap.Entropy) != len(snap.Trees) {
		snap.Entropy = make([]float64, len(snap.Trees))
	}
	return &Sorter{bounds: b, trees: snap.Trees, entropy: snap.Entropy, opts: o}, nil
}

func (s *Sorter) SaveFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := s.Save(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func LoadFile(filename string, opts ...Option) (*Sorter, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(bufio.NewReader(f), opts...)
}
