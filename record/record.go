// Package record defines the canonical on-disk form of a downloaded novel:
// metadata.json plus one JSON record per volume, with an images/ directory
// beside them.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hako-dl/hako-dl/common"
)

// MetadataFilename is the fixed name of the novel record inside a base
// directory.
const MetadataFilename = "metadata.json"

// VolumeDescriptor is one entry of the novel record's volume list. Order is
// 1-based and follows landing page order.
type VolumeDescriptor struct {
	Order    int    `json:"order"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// NovelRecord is the content of metadata.json.
type NovelRecord struct {
	NovelName       string             `json:"novelName"`
	Author          string             `json:"author"`
	Tags            []string           `json:"tags"`
	Summary         string             `json:"summary"`
	CoverImageLocal string             `json:"coverImageLocal"`
	URL             string             `json:"url"`
	Volumes         []VolumeDescriptor `json:"volumes"`
}

// ChapterContent is one materialized chapter. Index is 0-based and contiguous
// within a persisted volume record.
type ChapterContent struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Index   int    `json:"index"`
}

// VolumeRecord is the content of one per-volume JSON file.
type VolumeRecord struct {
	VolumeName      string           `json:"volumeName"`
	VolumeURL       string           `json:"volumeUrl"`
	CoverImageLocal string           `json:"coverImageLocal"`
	Chapters        []ChapterContent `json:"chapters"`
}

// DescriptorByFilename finds a volume descriptor by its record filename.
func (novel *NovelRecord) DescriptorByFilename(filename string) *VolumeDescriptor {
	for i := range novel.Volumes {
		if novel.Volumes[i].Filename == filename {
			return &novel.Volumes[i]
		}
	}

	return nil
}

// Save persists the novel record as metadata.json under baseDir.
func (novel *NovelRecord) Save(baseDir string) error {
	return writeJSON(filepath.Join(baseDir, MetadataFilename), novel)
}

// LoadNovelRecord reads metadata.json from baseDir.
func LoadNovelRecord(baseDir string) (*NovelRecord, error) {
	novel := &NovelRecord{Tags: []string{}, Volumes: []VolumeDescriptor{}}
	if err := readJSON(filepath.Join(baseDir, MetadataFilename), novel); err != nil {
		return nil, err
	}

	return novel, nil
}

// Save persists the volume record at given path.
func (vol *VolumeRecord) Save(path string) error {
	return writeJSON(path, vol)
}

// LoadVolumeRecord reads one volume record. A missing file is not an error,
// it yields (nil, nil).
func LoadVolumeRecord(path string) (*VolumeRecord, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	vol := &VolumeRecord{Chapters: []ChapterContent{}}
	if err := readJSON(path, vol); err != nil {
		return nil, err
	}

	return vol, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON conversion failed: %s", err)
	}

	if err = common.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write %s: %s", path, err)
	}

	return nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %s", path, err)
	}

	if err = json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse %s: %s", path, err)
	}

	return nil
}
