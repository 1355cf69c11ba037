package committee

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const jsonCommitteePath = "committee.json"

type jsonCommitteeFile struct {
	Epoch       uint64
	Authorities []*Authority
}

// JSONCommittee persists the committee in a human-editable JSON file in the
// data directory.
type JSONCommittee struct {
	l    sync.Mutex
	path string
}

// NewJSONCommittee creates a JSONCommittee rooted in base.
func NewJSONCommittee(base string) *JSONCommittee {
	return &JSONCommittee{
		path: filepath.Join(base, jsonCommitteePath),
	}
}

// Path ...
func (j *JSONCommittee) Path() string {
	return j.path
}

// Committee reads and validates the committee file.
func (j *JSONCommittee) Committee() (*Committee, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := os.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	var file jsonCommitteeFile
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&file); err != nil {
		return nil, err
	}

	return NewCommittee(file.Epoch, file.Authorities)
}

// Write stores the committee.
func (j *JSONCommittee) Write(c *Committee) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "\t")
	if err := enc.Encode(jsonCommitteeFile{Epoch: c.Epoch, Authorities: c.Authorities}); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0700); err != nil {
		return err
	}

	return os.WriteFile(j.path, buf.Bytes(), 0644)
}
