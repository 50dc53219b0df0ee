package loner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Codec converts jobs to and from the payloads stored on a queue.
type Codec interface {
	Encode(job Job) ([]byte, error)
	Decode(payload []byte) (Job, error)
}

// JSONCodec encodes jobs as {"class":"...","args":[...]}.
// Numbers are decoded as json.Number so they round-trip without precision loss.
type JSONCodec struct{}

// Encode encodes the job.
func (JSONCodec) Encode(job Job) ([]byte, error) {
	if job.Class == "" {
		return nil, fmt.Errorf("job class is empty")
	}
	return canonicalJSON(Job{Class: job.Class, Args: normalizeArgs(job.Args)})
}

// Decode decodes a payload produced by Encode (or any resque-compatible producer).
func (JSONCodec) Decode(payload []byte) (Job, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var job Job
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(job.Class) == "" {
		return Job{}, fmt.Errorf("%w: missing class", ErrMalformedPayload)
	}
	job.Args = normalizeArgs(job.Args)
	return job, nil
}
