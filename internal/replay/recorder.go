// Package replay persists broadcast snapshots and lifecycle events to
// compressed on-disk journals so a server run can be replayed for debugging.
package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"deepdelve/netcore/internal/wire"
)

var runNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// Manifest describes the journal bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	SnapshotsPath   string `json:"snapshots_path"`
	EventsPath      string `json:"events_path"`
	TickHz          int    `json:"tick_hz"`
	SnapshotEncoder string `json:"snapshot_encoder"`
}

// event is one lifecycle record in the event journal.
type event struct {
	At   string          `json:"at"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Recorder streams one server run to disk: snapshots into a zstd-compressed
// frame journal of length-prefixed JSON records, lifecycle events into a
// snappy-compressed JSONL journal.
type Recorder struct {
	mu     sync.Mutex
	closed bool
	now    func() time.Time

	snapshotFile   *os.File
	snapshotStream *zstd.Encoder
	eventFile      *os.File
	eventStream    *snappy.Writer
}

// NewRecorder prepares the run directory under root and opens the compressed
// sinks. The run name is derived from the level name and start time.
func NewRecorder(root, runName string, tickHz int, clock func() time.Time) (*Recorder, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := runNameCleaner.ReplaceAllString(runName, "")
	if cleaned == "" {
		cleaned = "run"
	}
	created := clock().UTC()
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	snapshotsPath := filepath.Join(dir, "snapshots.bin.zst")
	eventsPath := filepath.Join(dir, "events.jsonl.sz")

	snapshotFile, err := os.Create(snapshotsPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	snapshotStream, err := zstd.NewWriter(snapshotFile)
	if err != nil {
		snapshotFile.Close()
		return nil, Manifest{}, err
	}
	eventFile, err := os.Create(eventsPath)
	if err != nil {
		snapshotStream.Close()
		snapshotFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         1,
		CreatedAt:       created.Format(time.RFC3339),
		SnapshotsPath:   snapshotsPath,
		EventsPath:      eventsPath,
		TickHz:          tickHz,
		SnapshotEncoder: "zstd",
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, "manifest.json"), manifestData, 0o644)
	}
	if err != nil {
		snapshotStream.Close()
		snapshotFile.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	return &Recorder{
		now:            clock,
		snapshotFile:   snapshotFile,
		snapshotStream: snapshotStream,
		eventFile:      eventFile,
		eventStream:    snappy.NewBufferedWriter(eventFile),
	}, manifest, nil
}

// RecordSnapshot appends one broadcast snapshot to the frame journal. Write
// failures are swallowed; recording never disturbs the loop.
func (r *Recorder) RecordSnapshot(snap wire.Snapshot) {
	if r == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := r.snapshotStream.Write(header[:]); err != nil {
		return
	}
	_, _ = r.snapshotStream.Write(data)
}

// RecordEvent appends one lifecycle record to the event journal.
func (r *Recorder) RecordEvent(kind string, payload any) {
	if r == nil {
		return
	}
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return
		}
		data = encoded
	}
	record, err := json.Marshal(event{At: r.now().UTC().Format(time.RFC3339Nano), Kind: kind, Data: data})
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_, _ = r.eventStream.Write(append(record, '\n'))
}

// Close flushes and closes both journals. Idempotent.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	_ = r.snapshotStream.Close()
	_ = r.snapshotFile.Close()
	_ = r.eventStream.Close()
	_ = r.eventFile.Close()
}
