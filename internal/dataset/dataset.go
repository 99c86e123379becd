// Package dataset reads and writes sorting datasets on disk. A dataset is a
// JSON document, optionally lz4-compressed, holding the spike train, the
// initial cluster assignment and any previously curated groups and labels.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// lz4 frame magic: 4-byte LE 0x184D2204
var lz4Magic = []byte{0x04, 0x22, 0x4D, 0x18}

// Neighbor is one similarity candidate for a cluster.
type Neighbor struct {
	ID    int
	Score float64
}

// Dataset is a loaded sorting dataset.
type Dataset struct {
	Name          string
	SampleRate    float64
	SpikeTimes    []float64
	Assignments   []int // spike index → cluster id
	NextClusterID int
	Groups        map[int]string
	Labels        map[string]map[int]string

	similarity map[int][]Neighbor
}

// Raw JSON types for dataset file parsing.
type rawDataset struct {
	Name          string                    `json:"name"`
	SampleRate    float64                   `json:"sample_rate"`
	SpikeTimes    []float64                 `json:"spike_times"`
	SpikeClusters []int                     `json:"spike_clusters"`
	NextClusterID int                       `json:"next_cluster_id"`
	Groups        map[int]string            `json:"cluster_groups"`
	Labels        map[string]map[int]string `json:"cluster_labels"`
	Similarity    [][3]float64              `json:"similarity"`
}

// Parse parses raw JSON dataset data.
func Parse(data []byte) (*Dataset, error) {
	var raw rawDataset
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse dataset JSON: %w", err)
	}
	if len(raw.SpikeClusters) == 0 {
		return nil, fmt.Errorf("dataset has no spike_clusters")
	}
	if len(raw.SpikeTimes) > 0 && len(raw.SpikeTimes) != len(raw.SpikeClusters) {
		return nil, fmt.Errorf("spike_times has %d entries, spike_clusters has %d",
			len(raw.SpikeTimes), len(raw.SpikeClusters))
	}

	ds := &Dataset{
		Name:          raw.Name,
		SampleRate:    raw.SampleRate,
		SpikeTimes:    raw.SpikeTimes,
		Assignments:   raw.SpikeClusters,
		NextClusterID: raw.NextClusterID,
		Groups:        raw.Groups,
		Labels:        raw.Labels,
		similarity:    make(map[int][]Neighbor),
	}
	if ds.Groups == nil {
		ds.Groups = make(map[int]string)
	}

	// Similarity entries are symmetric pairs [a, b, score].
	for _, e := range raw.Similarity {
		a, b, score := int(e[0]), int(e[1]), e[2]
		ds.similarity[a] = append(ds.similarity[a], Neighbor{ID: b, Score: score})
		ds.similarity[b] = append(ds.similarity[b], Neighbor{ID: a, Score: score})
	}
	for c := range ds.similarity {
		ns := ds.similarity[c]
		sort.Slice(ns, func(i, j int) bool {
			if ns[i].Score != ns[j].Score {
				return ns[i].Score > ns[j].Score
			}
			return ns[i].ID < ns[j].ID
		})
	}

	return ds, nil
}

// Similar returns the similarity candidates for a cluster, best first.
func (ds *Dataset) Similar(clusterID int) []Neighbor {
	return ds.similarity[clusterID]
}

// Load reads a dataset file. Files ending in .lz4 (or carrying the lz4
// frame magic) are decompressed first.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if bytes.HasPrefix(data, lz4Magic) {
		data, err = io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("decompress dataset: %w", err)
		}
	}

	ds, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if ds.Name == "" {
		ds.Name = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".lz4"), ".json")
	}
	return ds, nil
}

// Export is the curated result written back to disk.
type Export struct {
	Name          string                    `json:"name"`
	SpikeClusters []int                     `json:"spike_clusters"`
	NextClusterID int                       `json:"next_cluster_id"`
	Groups        map[int]string            `json:"cluster_groups"`
	Labels        map[string]map[int]string `json:"cluster_labels"`
}

// Write writes an export as indented JSON, lz4-compressed when the path
// ends in .lz4.
func Write(path string, exp Export) error {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if strings.HasSuffix(path, ".lz4") {
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("compress export: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress export: %w", err)
		}
		data = buf.Bytes()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}
