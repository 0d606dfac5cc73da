// Package batcher splits a pending work list into submission-sized
// chunks under the service's item and byte limits.
package batcher

import (
	"errors"
	"fmt"
)

// ErrOversized marks an item whose single request line already exceeds
// the byte limit. It can never be submitted and must be dead-lettered.
var ErrOversized = errors.New("request exceeds batch byte limit")

// Limits bound a single submission.
type Limits struct {
	MaxItems int
	MaxBytes int64
}

// PayloadFunc renders one item's request line. The line must not contain
// a trailing newline; the batcher accounts for it.
type PayloadFunc func(key string) ([]byte, error)

// Batch is one submission-sized chunk.
type Batch struct {
	Keys      []string
	Lines     [][]byte
	SizeBytes int64
}

// Payload joins the batch's request lines into the upload body.
func (b Batch) Payload() []byte {
	payload := make([]byte, 0, b.SizeBytes)
	for _, line := range b.Lines {
		payload = append(payload, line...)
		payload = append(payload, '\n')
	}
	return payload
}

// Failure is an item that could not be placed into any batch.
type Failure struct {
	Key string
	Err error
}

// Partition renders each key's request line and packs the lines greedily
// in order. A new batch starts when adding a line would cross either
// limit. Items whose payload cannot be rendered, or whose single line is
// larger than MaxBytes, are returned as failures instead of aborting the
// whole partition.
func Partition(keys []string, limits Limits, render PayloadFunc) ([]Batch, []Failure) {
	var (
		batches  []Batch
		failures []Failure
		current  Batch
	)

	flush := func() {
		if len(current.Keys) > 0 {
			batches = append(batches, current)
			current = Batch{}
		}
	}

	for _, key := range keys {
		line, err := render(key)
		if err != nil {
			failures = append(failures, Failure{Key: key, Err: err})
			continue
		}
		lineSize := int64(len(line)) + 1

		if limits.MaxBytes > 0 && lineSize > limits.MaxBytes {
			failures = append(failures, Failure{
				Key: key,
				Err: fmt.Errorf("%w: %d bytes", ErrOversized, lineSize),
			})
			continue
		}

		itemsFull := limits.MaxItems > 0 && len(current.Keys) >= limits.MaxItems
		bytesFull := limits.MaxBytes > 0 && current.SizeBytes+lineSize > limits.MaxBytes
		if itemsFull || bytesFull {
			flush()
		}

		current.Keys = append(current.Keys, key)
		current.Lines = append(current.Lines, line)
		current.SizeBytes += lineSize
	}
	flush()

	return batches, failures
}
