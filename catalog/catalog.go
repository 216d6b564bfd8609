// Package catalog holds the parsed representation of a novel landing page and
// its JSON serialization.
package catalog

import (
	"encoding/json"
	"fmt"
)

// Chapter is one chapter link found on the landing page.
type Chapter struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Volume is one volume section of the landing page, chapters keep source
// page order.
type Volume struct {
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	CoverImg string    `json:"coverImg"`
	Chapters []Chapter `json:"chapters"`
}

// Novel is the full catalog record of a series. Volumes preserve source page
// order, tags preserve document order without duplicates.
type Novel struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Author    string   `json:"author"`
	Summary   string   `json:"summary"`
	MainCover string   `json:"mainCover"`
	Tags      []string `json:"tags"`
	Volumes   []Volume `json:"volumes"`
}

// Serialize renders the catalog as pretty printed JSON with a stable field
// set.
func (novel *Novel) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(novel, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("JSON conversion failed: %s", err)
	}

	return data, nil
}

// Deserialize validates and decodes catalog JSON. Required string fields and
// array shapes are checked explicitly, missing optional fields default to
// empty values.
func Deserialize(data []byte) (*Novel, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse catalog data: %s", err)
	}

	novel := &Novel{
		Tags:    []string{},
		Volumes: []Volume{},
	}

	if err := requireString(raw, "name", &novel.Name); err != nil {
		return nil, err
	}
	if err := requireString(raw, "url", &novel.URL); err != nil {
		return nil, err
	}

	optionalString(raw, "author", &novel.Author)
	optionalString(raw, "summary", &novel.Summary)
	optionalString(raw, "mainCover", &novel.MainCover)

	if tagData, ok := raw["tags"]; ok {
		if err := json.Unmarshal(tagData, &novel.Tags); err != nil {
			return nil, fmt.Errorf("catalog field tags must be an array of strings")
		}
	}

	volData, ok := raw["volumes"]
	if !ok {
		return novel, nil
	}

	volList := []map[string]json.RawMessage{}
	if err := json.Unmarshal(volData, &volList); err != nil {
		return nil, fmt.Errorf("catalog field volumes must be an array")
	}

	for i, rawVol := range volList {
		volume := Volume{Chapters: []Chapter{}}

		optionalString(rawVol, "url", &volume.URL)
		optionalString(rawVol, "name", &volume.Name)
		optionalString(rawVol, "coverImg", &volume.CoverImg)

		chapterData, ok := rawVol["chapters"]
		if ok {
			if err := json.Unmarshal(chapterData, &volume.Chapters); err != nil {
				return nil, fmt.Errorf("volume %d: chapters must be an array", i)
			}

			for j, chapter := range volume.Chapters {
				if chapter.Name == "" && chapter.URL == "" {
					return nil, fmt.Errorf("volume %d chapter %d: name and url are required", i, j)
				}
			}
		}

		novel.Volumes = append(novel.Volumes, volume)
	}

	return novel, nil
}

func requireString(raw map[string]json.RawMessage, key string, dst *string) error {
	data, ok := raw[key]
	if !ok {
		return fmt.Errorf("catalog field %s is required", key)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("catalog field %s must be a string", key)
	}

	return nil
}

func optionalString(raw map[string]json.RawMessage, key string, dst *string) {
	data, ok := raw[key]
	if !ok {
		return
	}

	json.Unmarshal(data, dst)
}
