package registry

import (
	"sort"
	"strings"

	"github.com/luma/nt4/protocol"
)

// Subscription is a snapshot of an active subscription.
type Subscription struct {
	ID       int32
	Patterns []string
	Options  protocol.SubscriptionOptions

	// Persist subscriptions survive a reconnect and are sent again.
	Persist bool

	// Topics are the ids of the announced topics matching the subscription.
	Topics []int64
}

// SubscriptionHandle is returned by Subscribe.
type SubscriptionHandle struct {
	ID int32
}

type subscription struct {
	id       int32
	patterns []string
	options  protocol.SubscriptionOptions
	persist  bool
	topics   map[int64]struct{}
}

func (s *subscription) matches(name string) bool {
	for _, pattern := range s.patterns {
		if s.options.Prefix {
			if strings.HasPrefix(name, pattern) {
				return true
			}

			continue
		}

		if name == pattern {
			return true
		}
	}

	return false
}

func (s *subscription) snapshot() Subscription {
	topics := make([]int64, 0, len(s.topics))
	for id := range s.topics {
		topics = append(topics, id)
	}

	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })

	return Subscription{
		ID:       s.id,
		Patterns: append([]string(nil), s.patterns...),
		Options:  s.options,
		Persist:  s.persist,
		Topics:   topics,
	}
}
