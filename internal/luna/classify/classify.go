// Package classify wraps the external sentiment and zero-shot theme models
// behind a single Classifier interface. Implementations are stateless pure
// functions of the input text; callers must tolerate failure, as a classifier
// outage degrades the day entry, it never blocks saving the user's words.
package classify

import (
	"context"

	"github.com/bdobrica/luna/internal/luna/journal"
)

// Classifier analyses one exchange's combined text and returns its sentiment
// and ranked themes. The classifier sees only the latest exchange, not the
// whole day, to bound cost.
type Classifier interface {
	Classify(ctx context.Context, text string) (*journal.Classification, error)
}

// Noop is a Classifier that classifies nothing. Useful in tests and when no
// inference API credentials are configured: the pipeline degrades exactly as
// it would on an adapter outage.
type Noop struct{}

// Classify always reports that no classification is available.
func (Noop) Classify(ctx context.Context, text string) (*journal.Classification, error) {
	return nil, nil
}

// Compile-time interface satisfaction check.
var _ Classifier = Noop{}
