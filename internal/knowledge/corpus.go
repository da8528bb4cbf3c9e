package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/OmChillure/medchat/internal/models"
)

// LoadCorpus reads the summary and full text maps (JSON objects keyed by document ID) and joins them
// into documents sorted by ID. Either path may be empty. A document missing from one map gets "N/A"
// for that field.
func LoadCorpus(summariesPath, fullTextsPath string) ([]models.Document, error) {
	summaries, err := readTextMap(summariesPath)
	if err != nil {
		return nil, err
	}
	fullTexts, err := readTextMap(fullTextsPath)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool, len(summaries)+len(fullTexts))
	for id := range summaries {
		ids[id] = true
	}
	for id := range fullTexts {
		ids[id] = true
	}

	docs := make([]models.Document, 0, len(ids))
	for id := range ids {
		docs = append(docs, models.Document{
			ID:       id,
			Summary:  valueOrNA(summaries, id),
			FullText: valueOrNA(fullTexts, id),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func readTextMap(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}

func valueOrNA(m map[string]string, id string) string {
	if v, ok := m[id]; ok {
		return v
	}
	return "N/A"
}
