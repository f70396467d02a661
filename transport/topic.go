package transport

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultInputPrefix  = "pixa/input/"
	DefaultOutputPrefix = "pixa/output/"
	DefaultSession      = "default"
)

// ErrForeignTopic is returned for topics outside the input prefix.
var ErrForeignTopic = errors.New("topic outside input prefix")

// Topics maps inbound topics to sessions and outbound topic prefixes.
//
// With SessionFromTopic off every frame belongs to one implicit session and
// chunks go to <Output><index>. With it on, the first segment after Input
// names the session and chunks go to <Output><session>/<index>.
type Topics struct {
	Input            string
	Output           string
	SessionFromTopic bool
}

// DefaultTopics returns the pixa/input/# → pixa/output/<index> layout.
func DefaultTopics() Topics {
	return Topics{Input: DefaultInputPrefix, Output: DefaultOutputPrefix}
}

func (t Topics) withDefaults() Topics {
	if t.Input == "" {
		t.Input = DefaultInputPrefix
	}
	if t.Output == "" {
		t.Output = DefaultOutputPrefix
	}
	if !strings.HasSuffix(t.Input, "/") {
		t.Input += "/"
	}
	if !strings.HasSuffix(t.Output, "/") {
		t.Output += "/"
	}
	return t
}

// Filter is the subscription filter covering every input topic.
func (t Topics) Filter() string {
	return t.withDefaults().Input + "#"
}

// Route returns the session id and outbound prefix for an inbound topic.
func (t Topics) Route(topic string) (string, string, error) {
	t = t.withDefaults()
	if !strings.HasPrefix(topic, t.Input) && topic != strings.TrimSuffix(t.Input, "/") {
		return "", "", errors.Wrap(ErrForeignTopic, topic)
	}
	if !t.SessionFromTopic {
		return DefaultSession, t.Output, nil
	}
	rest := strings.TrimPrefix(topic, t.Input)
	session, _, _ := strings.Cut(rest, "/")
	if session == "" {
		return DefaultSession, t.Output, nil
	}
	return session, t.Output + session + "/", nil
}
