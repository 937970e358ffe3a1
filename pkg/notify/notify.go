// Package notify fans emergency alerts out to contact channels. Channels fail
// independently; callers record per-channel outcomes instead of aborting.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lifeline/pkg/models"
)

// Message is one rendered alert ready for dispatch.
type Message struct {
	Target  string
	Subject string
	Body    string
}

// Channel delivers a rendered alert to one class of target.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Vars holds the named placeholder values for alert templates.
type Vars struct {
	SubjectID   string
	Timestamp   time.Time
	RiskLevel   models.RiskLevel
	FinalScore  float64
	TriggerType models.TriggerType
	ContactName string
}

// Render substitutes {{placeholder}} tokens in a template. Unknown tokens are
// left in place so a template typo is visible in the delivered alert rather
// than silently dropped.
func Render(template string, v Vars) string {
	r := strings.NewReplacer(
		"{{subject_id}}", v.SubjectID,
		"{{timestamp}}", v.Timestamp.UTC().Format(time.RFC3339),
		"{{risk_level}}", string(v.RiskLevel),
		"{{final_score}}", fmt.Sprintf("%.2f", v.FinalScore),
		"{{trigger_type}}", string(v.TriggerType),
		"{{contact_name}}", v.ContactName,
	)
	return r.Replace(template)
}

// Registry maps contact channel names to implementations.
type Registry struct {
	channels map[string]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel, len(channels))}
	for _, ch := range channels {
		r.channels[ch.Name()] = ch
	}
	return r
}

// Lookup returns the channel registered under name.
func (r *Registry) Lookup(name string) (Channel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}
