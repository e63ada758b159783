// Package discovery implements per-family source discoverers that fetch raw
// content, apply family-specific filters, and emit normalized items.
package discovery

import (
	"fmt"
	"time"

	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/ports"
)

// Registry keeps a mapping from source families to their discoverers. The set
// of families is closed; registration happens once at wiring time.
type Registry struct {
	discoverers map[domain.SourceType]ports.Discoverer
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{discoverers: map[domain.SourceType]ports.Discoverer{}}
}

// Register adds or replaces a discoverer implementation.
func (r *Registry) Register(d ports.Discoverer) {
	if r.discoverers == nil {
		r.discoverers = map[domain.SourceType]ports.Discoverer{}
	}
	r.discoverers[d.Name()] = d
}

// Resolve returns a discoverer by family or an error if it is absent.
func (r *Registry) Resolve(sourceType domain.SourceType) (ports.Discoverer, error) {
	if d, ok := r.discoverers[sourceType]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("no discoverer registered for source type %q", sourceType)
}

// freshnessPriority favors recently published items: full weight within the
// first hour, decaying by one per additional hour, floored at 1.
func freshnessPriority(publishedAt, now time.Time) int {
	const maxPriority = 100

	if publishedAt.IsZero() {
		return 1
	}

	age := now.Sub(publishedAt)
	if age < 0 {
		age = 0
	}

	priority := maxPriority - int(age/time.Hour)
	if priority < 1 {
		priority = 1
	}
	return priority
}

// rankPriority implements the marketplace tie-break: bestseller ranks in the
// top ten beat ranks 11-50, which beat everything deeper.
func rankPriority(rank int) int {
	switch {
	case rank > 0 && rank <= 10:
		return 100
	case rank > 10 && rank <= 50:
		return 50
	default:
		return 10
	}
}
