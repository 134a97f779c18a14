package notification

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"dispatchly/internal/common"
)

func testTemplate() *Template {
	return &Template{
		Name:     "welcome",
		Category: CategoryAcademic,
		Channels: []Channel{ChannelEmail, ChannelPush},
		SubjectPattern: "Welcome, {{userName}}",
		BodyPattern: map[Channel]string{
			ChannelEmail: "Hi {{userName}}, you joined {{courseName}}.",
			ChannelPush:  "{{userName}} joined {{courseName}}",
		},
		Variables:           []string{"userName", "courseName"},
		BatchSubjectPattern: "{{count}} {{category}} updates",
	}
}

// TestRenderDeterministic verifies the same inputs always produce the same
// output.
func TestRenderDeterministic(t *testing.T) {
	r := NewRegistry(true)
	if err := r.Register(testTemplate()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	vars := map[string]string{"userName": "Amina", "courseName": "Algebra"}
	first, err := r.Render("welcome", ChannelEmail, vars)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i := 0; i < 10; i++ {
		msg, err := r.Render("welcome", ChannelEmail, vars)
		if err != nil {
			t.Fatalf("Render #%d: %v", i, err)
		}
		if msg.Subject != first.Subject || msg.Body != first.Body {
			t.Fatalf("render not deterministic: %q vs %q", msg.Body, first.Body)
		}
	}
	if first.Subject != "Welcome, Amina" {
		t.Errorf("Subject = %q", first.Subject)
	}
	if first.Body != "Hi Amina, you joined Algebra." {
		t.Errorf("Body = %q", first.Body)
	}
}

// TestRenderMissingVariableNamesKey verifies a missing variable fails and
// the error names the key.
func TestRenderMissingVariableNamesKey(t *testing.T) {
	r := NewRegistry(true)
	if err := r.Register(testTemplate()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Render("welcome", ChannelEmail, map[string]string{"userName": "Amina"})
	var missing *common.MissingVariableError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingVariableError, got %v", err)
	}
	if missing.Variable != "courseName" {
		t.Errorf("Variable = %q, want courseName", missing.Variable)
	}
}

// TestRenderUnsupportedChannel verifies rendering for a channel the
// template does not declare is rejected.
func TestRenderUnsupportedChannel(t *testing.T) {
	r := NewRegistry(true)
	if err := r.Register(testTemplate()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Render("welcome", ChannelSMS, map[string]string{"userName": "x", "courseName": "y"})
	var unsupported *common.UnsupportedChannelError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedChannelError, got %v", err)
	}
	if unsupported.Channel != string(ChannelSMS) {
		t.Errorf("Channel = %q, want sms", unsupported.Channel)
	}
}

// TestRenderUnknownTemplate verifies lookup failures carry the template name.
func TestRenderUnknownTemplate(t *testing.T) {
	r := NewRegistry(true)

	_, err := r.Render("ghost", ChannelEmail, nil)
	var notFound *common.TemplateNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected TemplateNotFoundError, got %v", err)
	}
	if notFound.Name != "ghost" {
		t.Errorf("Name = %q, want ghost", notFound.Name)
	}
}

// TestStrictDuplicateRejected verifies duplicate registration fails in
// strict mode and replaces in non-strict mode.
func TestStrictDuplicateRejected(t *testing.T) {
	strict := NewRegistry(true)
	if err := strict.Register(testTemplate()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var dup *common.DuplicateTemplateError
	if err := strict.Register(testTemplate()); !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateTemplateError, got %v", err)
	}

	lax := NewRegistry(false)
	if err := lax.Register(testTemplate()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	replacement := testTemplate()
	replacement.SubjectPattern = "Hello again, {{userName}}"
	if err := lax.Register(replacement); err != nil {
		t.Fatalf("non-strict re-register: %v", err)
	}
	msg, err := lax.Render("welcome", ChannelEmail, map[string]string{"userName": "A", "courseName": "B"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msg.Subject != "Hello again, A" {
		t.Errorf("Subject = %q, replacement not applied", msg.Subject)
	}
}

// TestRegisterRejectsUndeclaredPlaceholder verifies a pattern referencing a
// variable outside the declared set is rejected at registration.
func TestRegisterRejectsUndeclaredPlaceholder(t *testing.T) {
	r := NewRegistry(true)
	tmpl := testTemplate()
	tmpl.BodyPattern[ChannelEmail] = "Hi {{userName}}, grade: {{grade}}"

	if err := r.Register(tmpl); err == nil {
		t.Fatal("expected registration to fail for undeclared placeholder")
	}
}

// TestRenderInjectionSafe verifies placeholder syntax inside variable values
// is copied literally, never expanded.
func TestRenderInjectionSafe(t *testing.T) {
	r := NewRegistry(true)
	if err := r.Register(testTemplate()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	msg, err := r.Render("welcome", ChannelEmail, map[string]string{
		"userName":   "{{courseName}}",
		"courseName": "Calculus",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Body, "Hi {{courseName}}, you joined Calculus.") {
		t.Errorf("injected placeholder was expanded: %q", msg.Body)
	}
}

// TestRenderDigestOrderAndCount verifies digest bodies keep enqueue order
// and the subject reflects the item count.
func TestRenderDigestOrderAndCount(t *testing.T) {
	r := NewRegistry(true)
	if err := r.Register(testTemplate()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var items []DigestItem
	for i := 1; i <= 3; i++ {
		items = append(items, DigestItem{
			Template: "welcome",
			Variables: map[string]string{
				"userName":   "Amina",
				"courseName": fmt.Sprintf("Course%d", i),
			},
		})
	}

	msg, err := r.RenderDigest(CategoryAcademic, ChannelEmail, items)
	if err != nil {
		t.Fatalf("RenderDigest: %v", err)
	}
	if msg.Subject != "3 academic updates" {
		t.Errorf("Subject = %q", msg.Subject)
	}

	pos1 := strings.Index(msg.Body, "Course1")
	pos2 := strings.Index(msg.Body, "Course2")
	pos3 := strings.Index(msg.Body, "Course3")
	if pos1 < 0 || pos2 < 0 || pos3 < 0 {
		t.Fatalf("digest body missing items: %q", msg.Body)
	}
	if !(pos1 < pos2 && pos2 < pos3) {
		t.Errorf("digest items out of order: %q", msg.Body)
	}
}

// TestRenderDigestSingleItem verifies a one-item digest uses the item's own
// subject.
func TestRenderDigestSingleItem(t *testing.T) {
	r := NewRegistry(true)
	if err := r.Register(testTemplate()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	msg, err := r.RenderDigest(CategoryAcademic, ChannelEmail, []DigestItem{{
		Template:  "welcome",
		Variables: map[string]string{"userName": "Amina", "courseName": "Algebra"},
	}})
	if err != nil {
		t.Fatalf("RenderDigest: %v", err)
	}
	if msg.Subject != "Welcome, Amina" {
		t.Errorf("Subject = %q, want the item's own subject", msg.Subject)
	}
}

// TestDefaultTemplatesRegister verifies the stock templates pass strict
// registration.
func TestDefaultTemplatesRegister(t *testing.T) {
	r := NewRegistry(true)
	if err := SeedDefaults(r); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	if len(r.All()) == 0 {
		t.Fatal("no stock templates registered")
	}
}
