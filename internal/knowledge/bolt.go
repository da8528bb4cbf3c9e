// Package knowledge stores the documents the development answering service retrieves as context.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/OmChillure/medchat/internal/models"
	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// BoltDB keeps documents in a BoltDB file, one JSON value per document ID.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (or creates with 0600 permissions) the database at path and makes sure the documents
// bucket exists.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create documents bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// PutDocuments inserts or replaces docs in a single transaction.
func (b BoltDB) PutDocuments(_ context.Context, docs []models.Document) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(documentsBucket)
		for _, doc := range docs {
			if doc.ID == "" {
				return fmt.Errorf("document without id")
			}
			v, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to marshal document: %w", err)
			}
			if err := bk.Put([]byte(doc.ID), v); err != nil {
				return fmt.Errorf("failed to put document %s: %w", doc.ID, err)
			}
		}
		return nil
	})
}

// Document returns the document with the given id. The boolean is false when it does not exist.
func (b BoltDB) Document(_ context.Context, id string) (models.Document, bool, error) {
	var doc models.Document
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(documentsBucket).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &doc)
	})
	if err != nil {
		return models.Document{}, false, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, found, nil
}

// Count returns the number of stored documents.
func (b BoltDB) Count(context.Context) (int, error) {
	n := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(documentsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

type scored struct {
	doc   models.Document
	score int
}

// Search returns up to k documents ranked by how many query terms they contain, counting a summary hit
// twice. Documents sharing no term with the query are left out; ties keep key order.
func (b BoltDB) Search(_ context.Context, query string, k int) ([]models.Document, error) {
	terms := Terms(query)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	var hits []scored
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(_, v []byte) error {
			var doc models.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("failed to unmarshal document: %w", err)
			}

			summary := termSet(doc.Summary)
			full := termSet(doc.FullText)
			score := 0
			for _, t := range terms {
				if summary[t] {
					score += 2
				}
				if full[t] {
					score++
				}
			}
			if score > 0 {
				hits = append(hits, scored{doc: doc, score: score})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	docs := make([]models.Document, len(hits))
	for i, h := range hits {
		docs[i] = h.doc
	}
	return docs, nil
}

// Terms splits text in lower-cased words of at least three letters or digits, without duplicates.
func Terms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

func termSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Terms(text) {
		set[t] = true
	}
	return set
}
