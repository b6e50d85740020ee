package output

import (
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/assetsync/internal/logging"
)

// Registry holds output channels in a bounded LRU keyed by channel id.
// The least recently opened or read channel is evicted first.
type Registry struct {
	cache        *lru.Cache[string, *Channel]
	linesPerChan int
	maxLine      int
	logger       *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLinesPerChannel sets how many lines each channel retains.
func WithLinesPerChannel(n int) Option {
	return func(r *Registry) {
		r.linesPerChan = n
	}
}

// WithMaxLineBytes caps the size of a single line.
func WithMaxLineBytes(n int) Option {
	return func(r *Registry) {
		r.maxLine = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates a registry holding at most maxChannels channels.
func NewRegistry(maxChannels int, opts ...Option) (*Registry, error) {
	if maxChannels <= 0 {
		maxChannels = 64
	}
	r := &Registry{linesPerChan: 1000}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger, "output")

	cache, err := lru.NewWithEvict(maxChannels, func(id string, ch *Channel) {
		r.logger.Debug("output channel evicted",
			zap.String("channel", id),
			zap.String("label", ch.Label()))
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Open creates a channel with a fresh id.
func (r *Registry) Open(label string) *Channel {
	ch := newChannel(uuid.NewString(), label, r.linesPerChan, r.maxLine)
	r.cache.Add(ch.ID(), ch)
	return ch
}

// Get returns the channel for id.
func (r *Registry) Get(id string) (*Channel, bool) {
	return r.cache.Get(id)
}

// Lines returns the retained lines of channel id.
func (r *Registry) Lines(id string) ([]Line, bool) {
	ch, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	return ch.Lines(), true
}

// Remove drops a channel.
func (r *Registry) Remove(id string) {
	r.cache.Remove(id)
}

// Len returns the number of channels held.
func (r *Registry) Len() int {
	return r.cache.Len()
}
