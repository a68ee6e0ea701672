// Package checkpoint persists the last sequence a feed consumer has
// processed, so that a restarted consumer resumes where it stopped.
package checkpoint

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	jsonpreserve "sigs.k8s.io/json"
)

// Store saves one sequence per feed name. Sequences are opaque and are
// stored as JSON. Load reports false when nothing was saved for feed.
type Store interface {
	Load(ctx context.Context, feed string) (any, bool, error)
	Save(ctx context.Context, feed string, seq any) error
}

func encodeSeq(seq any) (string, error) {
	b, err := json.Marshal(seq)
	if err != nil {
		return "", errors.Wrap(err, "encoding sequence")
	}
	return string(b), nil
}

func decodeSeq(text string) (any, error) {
	var seq any
	if err := jsonpreserve.UnmarshalCaseSensitivePreserveInts([]byte(text), &seq); err != nil {
		return nil, errors.Wrap(err, "decoding sequence")
	}
	return seq, nil
}

// Memory is a Store kept in process memory.
type Memory struct {
	mu   sync.RWMutex
	seqs map[string]string
}

func NewMemory() *Memory {
	return &Memory{seqs: map[string]string{}}
}

func (m *Memory) Load(_ context.Context, feed string) (any, bool, error) {
	m.mu.RLock()
	text, ok := m.seqs[feed]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	seq, err := decodeSeq(text)
	return seq, err == nil, err
}

func (m *Memory) Save(_ context.Context, feed string, seq any) error {
	text, err := encodeSeq(seq)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seqs[feed] = text
	return nil
}
