package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/cratequiet/pkg/audio"
	"github.com/MrWong99/cratequiet/pkg/classifier"
	"github.com/MrWong99/cratequiet/pkg/feedback"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	audio      map[string]func(ProviderEntry) (audio.Source, error)
	feedback   map[string]func(ProviderEntry) (feedback.Sink, error)
	classifier map[string]func(ClassifierConfig) (classifier.Classifier, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio:      make(map[string]func(ProviderEntry) (audio.Source, error)),
		feedback:   make(map[string]func(ProviderEntry) (feedback.Sink, error)),
		classifier: make(map[string]func(ClassifierConfig) (classifier.Classifier, error)),
	}
}

// RegisterAudio registers an audio source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterFeedback registers a feedback sink factory under name.
func (r *Registry) RegisterFeedback(name string, factory func(ProviderEntry) (feedback.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback[name] = factory
}

// RegisterClassifier registers a classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory func(ClassifierConfig) (classifier.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier[name] = factory
}

// CreateAudio instantiates an audio source using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateFeedback instantiates a feedback sink using the factory registered under entry.Name.
func (r *Registry) CreateFeedback(entry ProviderEntry) (feedback.Sink, error) {
	r.mu.RLock()
	factory, ok := r.feedback[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: feedback/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateClassifier instantiates a classifier using the factory registered under cfg.Name.
func (r *Registry) CreateClassifier(cfg ClassifierConfig) (classifier.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.classifier[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// Names returns the sorted names registered for kind ("audio", "feedback" or
// "classifier"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "audio":
		for n := range r.audio {
			names = append(names, n)
		}
	case "feedback":
		for n := range r.feedback {
			names = append(names, n)
		}
	case "classifier":
		for n := range r.classifier {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
