package scanning

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnreadableImage is returned by extractors when the artifact cannot be
// opened or decoded as an image.
var ErrUnreadableImage = errors.New("unreadable image")

// Role selects how an instruction is presented to the model.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Item is a single line on a receipt.
type Item struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
	Price    string `json:"price,omitempty"`
}

// Document is the structured prediction produced from a receipt image
type Document struct {
	Merchant    string `json:"merchant,omitempty"`
	Date        string `json:"date,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Items       []Item `json:"items,omitempty"`
	Subtotal    string `json:"subtotal,omitempty"`
	Tax         string `json:"tax,omitempty"`
	TotalAmount string `json:"total_amount"`
}

// Text serializes the document for the classifier prompts.
func (d *Document) Text() string {
	b, err := json.Marshal(d)
	if err != nil {
		// Document only holds strings and slices of strings.
		return ""
	}
	return string(b)
}

// Extractor turns an image on disk into a Document
type Extractor interface {
	// Extract reads the image at path and returns its structured prediction
	Extract(ctx context.Context, path string) (*Document, error)
}

// Classifier answers a single instruction about a serialized document
type Classifier interface {
	// Classify returns the model's raw textual answer
	Classify(ctx context.Context, role Role, instruction, document string) (string, error)
}

// Backend is a model provider that serves both extraction and classification
type Backend interface {
	Extractor
	Classifier
	// Close releases the underlying client
	Close() error
}
