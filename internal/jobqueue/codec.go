package jobqueue

import (
	"bytes"
	"encoding/gob"

	"github.com/petrijr/flowq/pkg/api"
)

// EncodeJob gob-encodes a Job. Payload variants are registered by pkg/api.
func EncodeJob(j *api.Job) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(j); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeJob gob-decodes a Job.
func DecodeJob(data []byte) (*api.Job, error) {
	var j api.Job
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&j); err != nil {
		return nil, err
	}
	return &j, nil
}
