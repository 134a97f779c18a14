package notification

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"dispatchly/internal/common"
)

// placeholderRe matches {{name}} placeholders in template patterns.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Template is a named message pattern rendered per channel.
//
// Rendering is pure string substitution: variable values are copied into the
// output verbatim and never parsed or evaluated, so hostile variable content
// cannot inject further expansion.
type Template struct {
	Name           string             `json:"name"`
	Category       Category           `json:"category"`
	Channels       []Channel          `json:"channels"`
	SubjectPattern string             `json:"subject_pattern"`
	BodyPattern    map[Channel]string `json:"body_pattern"`
	Variables      []string           `json:"variables,omitempty"`
	// BatchSubjectPattern, when set, is used as the subject of a merged
	// batch delivery. It may reference {{count}} and {{category}}.
	BatchSubjectPattern string `json:"batch_subject_pattern,omitempty"`
}

// SupportsChannel reports whether the template declares the given channel.
func (t *Template) SupportsChannel(ch Channel) bool {
	for _, c := range t.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Registry stores templates by name and resolves them into rendered content.
// Safe for concurrent use; registration overwrites by default so configuration
// can be hot-reloaded, unless strict mode is enabled.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	strict    bool
}

// NewRegistry creates an empty template registry.
func NewRegistry(strict bool) *Registry {
	return &Registry{
		templates: make(map[string]*Template),
		strict:    strict,
	}
}

// Register stores or overwrites a template by name. In strict mode a second
// registration of the same name fails with DuplicateTemplateError.
func (r *Registry) Register(t *Template) error {
	if t.Name == "" {
		return common.NewValidationError("template name is required")
	}
	if len(t.Channels) == 0 {
		return common.NewValidationError(fmt.Sprintf("template '%s' declares no channels", t.Name))
	}
	for _, ch := range t.Channels {
		if !IsValidChannel(ch) {
			return common.NewValidationError(fmt.Sprintf("template '%s': unknown channel '%s'", t.Name, ch))
		}
		if _, ok := t.BodyPattern[ch]; !ok {
			return common.NewValidationError(fmt.Sprintf("template '%s': no body pattern for channel '%s'", t.Name, ch))
		}
	}
	if err := r.validatePlaceholders(t); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[t.Name]; exists && r.strict {
		return &common.DuplicateTemplateError{Name: t.Name}
	}
	r.templates[t.Name] = t
	return nil
}

// validatePlaceholders ensures every placeholder referenced in a pattern is
// declared in Variables. Batch subject placeholders count and category are
// implicit.
func (r *Registry) validatePlaceholders(t *Template) error {
	declared := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		declared[v] = true
	}

	check := func(pattern string) error {
		for _, m := range placeholderRe.FindAllStringSubmatch(pattern, -1) {
			if !declared[m[1]] {
				return common.NewValidationError(
					fmt.Sprintf("template '%s': placeholder '%s' is not a declared variable", t.Name, m[1]))
			}
		}
		return nil
	}

	if err := check(t.SubjectPattern); err != nil {
		return err
	}
	for _, pattern := range t.BodyPattern {
		if err := check(pattern); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the template registered under name.
func (r *Registry) Lookup(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return nil, &common.TemplateNotFoundError{Name: name}
	}
	return t, nil
}

// All returns the registered templates sorted by name.
func (r *Registry) All() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Render resolves a template and substitutes the variable bag into the
// subject and the channel's body pattern. Every declared variable must be
// present in vars; a missing one fails with MissingVariableError naming it.
func (r *Registry) Render(name string, ch Channel, vars map[string]string) (*Message, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !t.SupportsChannel(ch) {
		return nil, &common.UnsupportedChannelError{Template: name, Channel: string(ch)}
	}
	for _, required := range t.Variables {
		if _, ok := vars[required]; !ok {
			return nil, &common.MissingVariableError{Template: name, Variable: required}
		}
	}
	return &Message{
		Subject: substitute(t.SubjectPattern, vars),
		Body:    substitute(t.BodyPattern[ch], vars),
	}, nil
}

// DigestItem is one entry of a merged batch delivery.
type DigestItem struct {
	Template  string
	Variables map[string]string
}

// RenderDigest merges multiple variable bags into a single delivery for one
// channel. Item bodies are rendered individually, in the given order, and
// joined with blank lines. The subject comes from the first item's template
// batch subject pattern when declared, otherwise a generic count line.
func (r *Registry) RenderDigest(category Category, ch Channel, items []DigestItem) (*Message, error) {
	if len(items) == 0 {
		return nil, common.NewValidationError("digest requires at least one item")
	}

	bodies := make([]string, 0, len(items))
	for _, item := range items {
		msg, err := r.Render(item.Template, ch, item.Variables)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, msg.Body)
	}

	first, err := r.Lookup(items[0].Template)
	if err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("%d new %s notifications", len(items), category)
	if first.BatchSubjectPattern != "" {
		subject = substitute(first.BatchSubjectPattern, map[string]string{
			"count":    strconv.Itoa(len(items)),
			"category": string(category),
		})
	}
	if len(items) == 1 {
		if msg, err := r.Render(items[0].Template, ch, items[0].Variables); err == nil {
			subject = msg.Subject
		}
	}

	return &Message{
		Subject: subject,
		Body:    strings.Join(bodies, "\n\n"),
	}, nil
}

// substitute replaces every declared placeholder with its variable value.
// Values are inserted literally; placeholders inside values are not expanded.
func substitute(pattern string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(pattern, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// DefaultTemplates seeds the registry with the platform's stock templates.
// Deployments typically override these from configuration.
func DefaultTemplates() []*Template {
	return []*Template{
		{
			Name:     "courseEnrollment",
			Category: CategoryAcademic,
			Channels: []Channel{ChannelEmail, ChannelPush, ChannelInApp},
			SubjectPattern: "You're enrolled in {{courseName}}",
			BodyPattern: map[Channel]string{
				ChannelEmail: "Hi {{userName}},\n\nYou have been enrolled in {{courseName}}. Welcome aboard!",
				ChannelPush:  "{{userName}}, you're enrolled in {{courseName}}",
				ChannelInApp: "You have been enrolled in {{courseName}}.",
			},
			Variables:           []string{"userName", "courseName"},
			BatchSubjectPattern: "{{count}} course updates",
		},
		{
			Name:     "assignmentDue",
			Category: CategoryAcademic,
			Channels: []Channel{ChannelEmail, ChannelPush, ChannelInApp},
			SubjectPattern: "Assignment due: {{assignmentName}}",
			BodyPattern: map[Channel]string{
				ChannelEmail: "Hi {{userName}},\n\nYour assignment {{assignmentName}} for {{courseName}} is due {{dueDate}}.",
				ChannelPush:  "{{assignmentName}} is due {{dueDate}}",
				ChannelInApp: "{{assignmentName}} ({{courseName}}) is due {{dueDate}}.",
			},
			Variables:           []string{"userName", "courseName", "assignmentName", "dueDate"},
			BatchSubjectPattern: "{{count}} assignment reminders",
		},
		{
			Name:     "scholarshipAwarded",
			Category: CategoryPayment,
			Channels: []Channel{ChannelEmail, ChannelSMS, ChannelInApp},
			SubjectPattern: "Scholarship awarded",
			BodyPattern: map[Channel]string{
				ChannelEmail: "Congratulations {{userName}}, you have been awarded the {{scholarshipName}} scholarship.",
				ChannelSMS:   "Congratulations! You've been awarded the {{scholarshipName}} scholarship.",
				ChannelInApp: "You have been awarded the {{scholarshipName}} scholarship.",
			},
			Variables: []string{"userName", "scholarshipName"},
		},
		{
			Name:     "paymentReceived",
			Category: CategoryPayment,
			Channels: []Channel{ChannelEmail, ChannelInApp},
			SubjectPattern: "Payment received",
			BodyPattern: map[Channel]string{
				ChannelEmail: "Hi {{userName}},\n\nWe received your payment of {{amount}}. Thank you.",
				ChannelInApp: "Payment of {{amount}} received.",
			},
			Variables: []string{"userName", "amount"},
		},
		{
			Name:     "badgeEarned",
			Category: CategorySocial,
			Channels: []Channel{ChannelEmail, ChannelPush, ChannelInApp},
			SubjectPattern: "You earned the {{badgeName}} badge",
			BodyPattern: map[Channel]string{
				ChannelEmail: "Hi {{userName}},\n\nYou earned the {{badgeName}} badge. Keep it up!",
				ChannelPush:  "Badge earned: {{badgeName}}",
				ChannelInApp: "You earned the {{badgeName}} badge.",
			},
			Variables:           []string{"userName", "badgeName"},
			BatchSubjectPattern: "{{count}} new achievements",
		},
		{
			Name:     "dailyReflection",
			Category: CategorySpiritual,
			Channels: []Channel{ChannelPush, ChannelInApp},
			SubjectPattern: "Your daily reflection",
			BodyPattern: map[Channel]string{
				ChannelPush:  "{{userName}}, your reflection for today is ready.",
				ChannelInApp: "Today's reflection: {{reflectionTitle}}",
			},
			Variables:           []string{"userName", "reflectionTitle"},
			BatchSubjectPattern: "{{count}} reflections waiting",
		},
		{
			Name:     "systemMaintenance",
			Category: CategorySystem,
			Channels: []Channel{ChannelEmail, ChannelInApp},
			SubjectPattern: "Scheduled maintenance",
			BodyPattern: map[Channel]string{
				ChannelEmail: "The platform will be unavailable on {{maintenanceDate}} for scheduled maintenance.",
				ChannelInApp: "Maintenance scheduled for {{maintenanceDate}}.",
			},
			Variables: []string{"maintenanceDate"},
		},
	}
}

// SeedDefaults registers the stock templates into a registry.
func SeedDefaults(r *Registry) error {
	for _, t := range DefaultTemplates() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
