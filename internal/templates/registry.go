// Package templates renders the built-in transactional email templates.
//
// Every template is a file under files/ defining three named blocks:
// "<id>.subject", "<id>.html" and "<id>.text". The HTML block is executed
// with html/template, the other two with text/template. Rendering is pure: the
// same id and data always produce the same output.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"maps"
	"slices"
	"strings"
	texttemplate "text/template"
)

//go:embed files/*.tmpl
var templateFS embed.FS

// ErrUnknownTemplate is returned by Render for ids that are not registered.
var ErrUnknownTemplate = errors.New("unknown email template")

// Template ids understood by the registry.
const (
	TestReminder         = "test-reminder"
	TestComplete         = "test-complete"
	Invoice              = "invoice"
	PaymentReceived      = "payment-received"
	PaymentFailed        = "payment-failed"
	AppointmentScheduled = "appointment-scheduled"
	AppointmentReminder  = "appointment-reminder"
	AppointmentCancelled = "appointment-cancelled"
	Welcome              = "welcome"
	PasswordReset        = "password-reset"
	AccountVerification  = "account-verification"
)

// definition lists the data keys a template reads. Every key defaults to the
// empty string so absent data renders blank instead of "<no value>".
type definition struct {
	id   string
	keys []string
}

var definitions = []definition{
	{TestReminder, []string{"customerName", "deviceLocation", "dueDate", "scheduleUrl"}},
	{TestComplete, []string{"customerName", "deviceLocation", "testDate", "result", "technicianName", "reportUrl"}},
	{Invoice, []string{"customerName", "invoiceNumber", "dueDate", "total", "payUrl"}},
	{PaymentReceived, []string{"customerName", "invoiceNumber", "amount", "paymentDate"}},
	{PaymentFailed, []string{"customerName", "invoiceNumber", "amount", "reason", "payUrl"}},
	{AppointmentScheduled, []string{"customerName", "appointmentDate", "appointmentTime", "address", "technicianName"}},
	{AppointmentReminder, []string{"customerName", "appointmentDate", "appointmentTime", "address", "technicianName"}},
	{AppointmentCancelled, []string{"customerName", "appointmentDate", "reason", "rescheduleUrl"}},
	{Welcome, []string{"customerName", "loginUrl"}},
	{PasswordReset, []string{"customerName", "resetUrl", "expiresIn"}},
	{AccountVerification, []string{"customerName", "verifyUrl"}},
}

// Branding is merged into every render. Explicit template data wins.
type Branding struct {
	CompanyName  string
	SupportEmail string
	AppURL       string
}

// Rendered is the output of one template expansion.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Registry holds the parsed template set. It is safe for concurrent use.
type Registry struct {
	html     *htmltemplate.Template
	text     *texttemplate.Template
	defaults map[string]map[string]any
}

// NewRegistry parses the embedded templates.
func NewRegistry(b Branding) (*Registry, error) {
	html, err := htmltemplate.New("email").ParseFS(templateFS, "files/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	text, err := texttemplate.New("email").ParseFS(templateFS, "files/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}

	branding := map[string]any{
		"companyName":  b.CompanyName,
		"supportEmail": b.SupportEmail,
		"appUrl":       b.AppURL,
	}

	defaults := make(map[string]map[string]any, len(definitions))
	for _, def := range definitions {
		for _, block := range []string{".subject", ".html", ".text"} {
			if text.Lookup(def.id+block) == nil {
				return nil, fmt.Errorf("template %q is missing block %q", def.id, def.id+block)
			}
		}
		d := maps.Clone(branding)
		for _, k := range def.keys {
			d[k] = ""
		}
		if def.id == Invoice {
			d["items"] = []any{}
		}
		defaults[def.id] = d
	}

	return &Registry{html: html, text: text, defaults: defaults}, nil
}

// Has reports whether id is a registered template.
func (r *Registry) Has(id string) bool {
	_, ok := r.defaults[id]
	return ok
}

// IDs returns the registered template ids in sorted order.
func (r *Registry) IDs() []string {
	return slices.Sorted(maps.Keys(r.defaults))
}

// Render expands template id with data.
func (r *Registry) Render(id string, data map[string]any) (Rendered, error) {
	defaults, ok := r.defaults[id]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}

	merged := maps.Clone(defaults)
	maps.Copy(merged, data)

	subject, err := r.execText(id+".subject", merged)
	if err != nil {
		return Rendered{}, err
	}
	text, err := r.execText(id+".text", merged)
	if err != nil {
		return Rendered{}, err
	}

	var buf bytes.Buffer
	if err := r.html.ExecuteTemplate(&buf, id+".html", merged); err != nil {
		return Rendered{}, fmt.Errorf("render %s: %w", id+".html", err)
	}

	return Rendered{
		Subject: strings.Join(strings.Fields(subject), " "),
		HTML:    strings.TrimSpace(buf.String()),
		Text:    strings.TrimSpace(text),
	}, nil
}

func (r *Registry) execText(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.text.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
