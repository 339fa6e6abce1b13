package notification

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Built-in template ids.
const (
	TemplatePatientCalled          = "patient-called"
	TemplateDoctorAssigned         = "doctor-assigned"
	TemplateLabResultsReady        = "lab-results-ready"
	TemplateLowStock               = "low-stock"
	TemplateCriticalBloodInventory = "critical-blood-inventory"
)

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Type  ToastType `json:"type"`
}

// TemplateEngine holds templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine returns an engine with the built-in templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    TemplatePatientCalled,
			Name:  "Patient Called",
			Title: "Now serving token {{token}}",
			Body:  "Token {{token}}: please proceed to {{location}}",
			Type:  ToastInfo,
		},
		{
			ID:    TemplateDoctorAssigned,
			Name:  "Doctor Assigned",
			Title: "New patient assigned",
			Body:  "Dr. {{doctor_name}}, token {{token}} ({{patient_name}}) has been assigned to you",
			Type:  ToastInfo,
		},
		{
			ID:    TemplateLabResultsReady,
			Name:  "Lab Results Ready",
			Title: "Lab results ready",
			Body:  "Lab results for token {{token}} ({{patient_name}}) are ready for review",
			Type:  ToastSuccess,
		},
		{
			ID:    TemplateLowStock,
			Name:  "Low Stock",
			Title: "Low stock: {{item_name}}",
			Body:  "{{item_name}} is down to {{quantity}} (reorder level {{reorder_level}})",
			Type:  ToastWarning,
		},
		{
			ID:    TemplateCriticalBloodInventory,
			Name:  "Critical Blood Inventory",
			Title: "Critical inventory: {{blood_type}} {{product_type}}",
			Body:  "Only {{count}} {{blood_type}} {{product_type}} units available",
			Type:  ToastError,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Get returns a copy of the template with id.
func (e *TemplateEngine) Get(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// IDs lists the registered template ids in order.
func (e *TemplateEngine) IDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.templates))
	for id := range e.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Render replaces {{key}} in the title and body. Keys missing from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	t, ok := e.Get(templateID)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}
	title, body = t.Title, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}
