// Package transform provides the publish pipeline applied by a channel server
// before a message is fanned out to subscribers.
package transform

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
)

// Publication is a message on its way to the subscribers of Channel.
type Publication struct {
	Ctx     context.Context
	Channel string
	Payload any
}

// PublishTransformFunc can modify, replace or drop a Publication.
//
// Returning nil drops the publication and stops the pipeline. Returning false
// for the continue flag stops the pipeline but keeps the returned publication.
type PublishTransformFunc func(p *Publication) (*Publication, bool)

// DropChannelPattern drops publications whose channel matches an MQTT-style
// pattern such as "secret/+" or "debug/#".
func DropChannelPattern(pattern string) PublishTransformFunc {
	return func(p *Publication) (*Publication, bool) {
		if mqttpattern.Matches(pattern, p.Channel) {
			return nil, false
		}
		return p, true
	}
}

// OnlyChannelPattern drops publications whose channel does not match pattern.
func OnlyChannelPattern(pattern string) PublishTransformFunc {
	return func(p *Publication) (*Publication, bool) {
		if !mqttpattern.Matches(pattern, p.Channel) {
			return nil, false
		}
		return p, true
	}
}

// DropChannelPrefix drops publications whose channel starts with prefix.
func DropChannelPrefix(prefix string) PublishTransformFunc {
	return func(p *Publication) (*Publication, bool) {
		if strings.HasPrefix(p.Channel, prefix) {
			return nil, false
		}
		return p, true
	}
}

// RateLimitByChannel drops publications that arrive less than minInterval after
// the last one let through on the same channel.
func RateLimitByChannel(minInterval time.Duration) PublishTransformFunc {
	var mu sync.Mutex
	lastSent := make(map[string]time.Time)

	return func(p *Publication) (*Publication, bool) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if last, ok := lastSent[p.Channel]; ok && now.Sub(last) < minInterval {
			return nil, false
		}
		lastSent[p.Channel] = now
		return p, true
	}
}

// ChainTransforms combines several transforms into one.
func ChainTransforms(transforms ...PublishTransformFunc) PublishTransformFunc {
	return func(p *Publication) (*Publication, bool) {
		current := p
		for _, transform := range transforms {
			next, cont := transform(current)
			current = next
			if current == nil || !cont {
				return current, cont
			}
		}
		return current, true
	}
}

// Apply runs p through transforms in order and returns the result, or nil if
// the publication was dropped.
func Apply(transforms []PublishTransformFunc, p *Publication) *Publication {
	if len(transforms) == 0 {
		return p
	}
	out, _ := ChainTransforms(transforms...)(p)
	return out
}
