package card

import "fmt"

// Option is one selectable choice in a Question, optionally carrying a
// longer human-readable description (shown to the agent when summarizing
// resolved decisions, see study.BuildContext).
type Option struct {
	Label       string
	Description string
}

// Question is an interview-style form field.
type Question struct {
	Name        string
	Prompt      string
	Options     []Option
	Header      string
	Multiple    bool
	AllowOther  bool
	Default     []string
}

// NewQuestion validates and constructs a Question, matching the Python
// dataclass's __post_init__ checks (non-empty options, default must name an
// existing option label).
func NewQuestion(name, prompt string, options []Option) (*Question, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("question options must be non-empty")
	}
	return &Question{Name: name, Prompt: prompt, Options: options, AllowOther: true}, nil
}

// WithDefault sets the default selection(s), validating they name real option
// labels.
func (q *Question) WithDefault(defaults ...string) error {
	labels := map[string]bool{}
	for _, o := range q.Options {
		labels[o.Label] = true
	}
	for _, d := range defaults {
		if !labels[d] {
			return fmt.Errorf("question default %q not in option labels", d)
		}
	}
	q.Default = defaults
	return nil
}

// ToDict renders the question as the field spec shape sent to the browser.
func (q *Question) ToDict() map[string]any {
	opts := make([]map[string]string, 0, len(q.Options))
	for _, o := range q.Options {
		opts = append(opts, map[string]string{"label": o.Label, "description": o.Description})
	}
	d := map[string]any{
		"type":        "question",
		"name":        q.Name,
		"question":    q.Prompt,
		"options":     opts,
		"multiple":    q.Multiple,
		"allow_other": q.AllowOther,
	}
	if q.Header != "" {
		d["header"] = q.Header
	}
	if len(q.Default) > 0 {
		if q.Multiple {
			d["default"] = q.Default
		} else {
			d["default"] = q.Default[0]
		}
	}
	return d
}

// Form groups one or more Questions rendered as a single decision card, all
// fields stacked vertically with no nesting or conditional visibility.
type Form struct {
	Fields []*Question
}

// NewForm validates field name uniqueness before returning the form.
func NewForm(fields ...*Question) (*Form, error) {
	seen := map[string]bool{}
	for _, f := range fields {
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate form field name: %q", f.Name)
		}
		seen[f.Name] = true
	}
	return &Form{Fields: fields}, nil
}

// ToDict renders the form's field specs.
func (f *Form) ToDict() map[string]any {
	fields := make([]map[string]any, 0, len(f.Fields))
	for _, q := range f.Fields {
		fields = append(fields, q.ToDict())
	}
	return map[string]any{"fields": fields}
}

// ResolveOptionDescriptions cross-references submitted values against field
// specs to attach each selected option's description. fieldSpecs is the raw
// preview["fields"] list as stored on the card.
func ResolveOptionDescriptions(values map[string]any, fieldSpecs []map[string]any) map[string]any {
	if len(values) == 0 || len(fieldSpecs) == 0 {
		return map[string]any{}
	}

	fieldOptions := map[string]map[string]string{}
	for _, spec := range fieldSpecs {
		name, _ := spec["name"].(string)
		labelToDesc := map[string]string{}
		if opts, ok := spec["options"].([]any); ok {
			for _, raw := range opts {
				switch o := raw.(type) {
				case map[string]any:
					label, _ := o["label"].(string)
					desc, _ := o["description"].(string)
					labelToDesc[label] = desc
				case string:
					labelToDesc[o] = ""
				}
			}
		}
		fieldOptions[name] = labelToDesc
	}

	result := map[string]any{}
	for fieldName, selected := range values {
		descs := fieldOptions[fieldName]
		if list, ok := selected.([]any); ok {
			strs := make([]string, 0, len(list))
			descList := make([]string, 0, len(list))
			for _, v := range list {
				s, _ := v.(string)
				strs = append(strs, s)
				descList = append(descList, descs[s])
			}
			result[fieldName] = map[string]any{"selected": strs, "descriptions": descList}
			continue
		}
		s, _ := selected.(string)
		result[fieldName] = map[string]any{"selected": s, "description": descs[s]}
	}
	return result
}
