// Package mock provides a scripted [classifier.Classifier] for unit tests.
//
// Example:
//
//	cls := &mock.Classifier{
//	    Results: []classifier.Result{{IsBark: true, Confidence: 0.9}},
//	}
package mock

import (
	"sync"

	"github.com/MrWong99/cratequiet/pkg/audio"
	"github.com/MrWong99/cratequiet/pkg/classifier"
)

// ClassifyCall records a single invocation of Classifier.Classify.
type ClassifyCall struct {
	Sample      audio.Sample
	Sensitivity int
}

// Classifier is a mock implementation of [classifier.Classifier].
type Classifier struct {
	mu sync.Mutex

	// Results are returned in order. Once exhausted, Default is returned.
	Results []classifier.Result

	// Default is returned once Results is exhausted. Volume and Frequency are
	// filled from the sample when left zero.
	Default classifier.Result

	// Calls records every call to Classify in order.
	Calls []ClassifyCall
}

// Classify implements [classifier.Classifier].
func (c *Classifier) Classify(sample audio.Sample, sensitivity int) classifier.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, ClassifyCall{Sample: sample, Sensitivity: sensitivity})

	res := c.Default
	if n := len(c.Calls); n <= len(c.Results) {
		res = c.Results[n-1]
	}
	if res.Volume == 0 {
		res.Volume = sample.Volume
	}
	if res.Frequency == 0 {
		res.Frequency = sample.Frequency
	}
	return res
}

// CallCount returns the number of Classify calls so far.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// LastSensitivity returns the sensitivity of the most recent call, or 0.
func (c *Classifier) LastSensitivity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Calls) == 0 {
		return 0
	}
	return c.Calls[len(c.Calls)-1].Sensitivity
}

var _ classifier.Classifier = (*Classifier)(nil)
