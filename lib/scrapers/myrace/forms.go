package myrace

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"raceops-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldPassword FieldKind = "password"
	FieldHidden   FieldKind = "hidden"
	FieldCheckbox FieldKind = "checkbox"
	FieldRadio    FieldKind = "radio"
	FieldSelect   FieldKind = "select"
	FieldTextarea FieldKind = "textarea"
)

// FormField is a snapshot of one discovered field. Single-valued
// fields carry their default in Value, multi-valued ones (checkbox
// groups, multi-selects) in Values.
type FormField struct {
	Name     string
	Kind     FieldKind
	Value    string
	Values   []string
	Required bool
	Multiple bool
	Options  []string
}

func (f FormField) textual() bool {
	switch f.Kind {
	case FieldText, FieldPassword, "number", "tel", "email":
		return true
	}
	return false
}

// FormSnapshot captures one HTML form: its submit target and every
// field with its defaults. Field names are unique within a snapshot.
type FormSnapshot struct {
	Action string
	Method string
	Fields []FormField
}

func (s FormSnapshot) Field(name string) (FormField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FormField{}, false
}

func (s FormSnapshot) HasPassword() bool {
	for _, f := range s.Fields {
		if f.Kind == FieldPassword {
			return true
		}
	}
	return false
}

// ParseForms enumerates every form in the document. The base URL
// resolves relative form actions.
func ParseForms(doc *goquery.Document, base *url.URL) []FormSnapshot {
	var out []FormSnapshot
	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		out = append(out, parseForm(form, base))
	})
	return out
}

func parseForm(form *goquery.Selection, base *url.URL) FormSnapshot {
	action := form.AttrOr("action", "")
	if base != nil {
		if u, err := url.Parse(action); err == nil {
			action = base.ResolveReference(u).String()
		}
	}

	snap := FormSnapshot{
		Action: action,
		Method: strings.ToLower(form.AttrOr("method", "post")),
	}

	form.Find("input").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		kind := FieldKind(strings.ToLower(input.AttrOr("type", "text")))
		_, required := input.Attr("required")
		_, checked := input.Attr("checked")

		var values, options []string
		switch kind {
		case FieldCheckbox, FieldRadio:
			// each box or button in the group is one selectable option
			value := input.AttrOr("value", "on")
			options = []string{value}
			if checked {
				values = []string{value}
			}
		default:
			values = []string{input.AttrOr("value", "")}
		}
		snap.add(name, values, kind, required, false, options)
	})

	form.Find("textarea").Each(func(_ int, area *goquery.Selection) {
		name := area.AttrOr("name", "")
		_, required := area.Attr("required")
		snap.add(name, []string{area.Text()}, FieldTextarea, required, false, nil)
	})

	form.Find("select").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		_, required := sel.Attr("required")
		_, multiple := sel.Attr("multiple")

		var options, selected []string
		sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
			value, ok := opt.Attr("value")
			if !ok {
				value = opt.Text()
			}
			options = append(options, value)
			if _, isSelected := opt.Attr("selected"); isSelected {
				selected = append(selected, value)
			}
		})

		if len(selected) == 0 && !multiple {
			if len(options) > 0 {
				selected = []string{options[0]}
			} else {
				selected = []string{""}
			}
		}
		snap.add(name, selected, FieldSelect, required, multiple, options)
	})

	return snap
}

// add registers a field default, merging duplicates: checkbox/radio
// groups share one name and fold into a multi-valued field.
func (s *FormSnapshot) add(name string, values []string, kind FieldKind, required, multiple bool, options []string) {
	if name == "" {
		return
	}
	multiple = multiple || kind == FieldCheckbox || kind == FieldRadio

	filtered := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			filtered = append(filtered, v)
		}
	}

	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name != name {
			continue
		}
		f.Multiple = f.Multiple || multiple
		f.Required = f.Required || required
		if f.Multiple {
			if f.Value != "" {
				f.Values = append(f.Values, f.Value)
				f.Value = ""
			}
			f.Values = append(f.Values, filtered...)
		} else if len(values) > 0 {
			f.Value = values[len(values)-1]
		}
		for _, opt := range options {
			if !slices.Contains(f.Options, opt) {
				f.Options = append(f.Options, opt)
			}
		}
		return
	}

	field := FormField{
		Name:     name,
		Kind:     kind,
		Required: required,
		Multiple: multiple,
		Options:  slices.Clone(options),
	}
	if multiple {
		field.Values = filtered
	} else if len(values) > 0 {
		field.Value = values[len(values)-1]
	}
	s.Fields = append(s.Fields, field)
}

// BuildPayload resolves a snapshot into the values a submission would
// carry. An override always replaces the field's default; fields with
// neither an override nor a default are left out entirely. The second
// return value names required fields that ended up empty.
func BuildPayload(snap FormSnapshot, overrides map[string][]string) (url.Values, []string) {
	payload := url.Values{}
	var missing []string

	remaining := make(map[string][]string, len(overrides))
	for k, v := range overrides {
		remaining[k] = v
	}

	for _, f := range snap.Fields {
		override, hasOverride := remaining[f.Name]
		delete(remaining, f.Name)

		if f.Multiple {
			values := f.Values
			if hasOverride {
				values = override
			}
			filtered := make([]string, 0, len(values))
			for _, v := range values {
				if v != "" {
					filtered = append(filtered, v)
				}
			}
			if len(filtered) > 0 {
				payload[f.Name] = filtered
			}
			if f.Required && len(filtered) == 0 {
				missing = append(missing, f.Name)
			}
			continue
		}

		value := f.Value
		if hasOverride {
			value = ""
			if len(override) > 0 {
				value = override[len(override)-1]
			}
		}
		if value != "" || hasOverride {
			payload.Set(f.Name, value)
		}
		if f.Required && value == "" {
			missing = append(missing, f.Name)
		}
	}

	// overrides for fields the snapshot never saw still get submitted
	for name, values := range remaining {
		payload[name] = values
	}

	return payload, missing
}

// ParseFieldOverrides turns raw "name=value" items into an override
// map; a repeated name accumulates multiple values.
func ParseFieldOverrides(items []string) (map[string][]string, error) {
	overrides := map[string][]string{}
	for _, raw := range items {
		key, value, found := strings.Cut(raw, "=")
		if !found {
			return nil, fmt.Errorf("field override %q must look like name=value", raw)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("field override %q has an empty name", raw)
		}
		overrides[key] = append(overrides[key], strings.TrimSpace(value))
	}
	return overrides, nil
}

// FieldRole identifies which coupon-request value a discovered form
// field should receive.
type FieldRole int

const (
	RoleNone FieldRole = iota
	// never touched (csrf tokens and the like)
	RoleSkip
	RoleCode
	RoleDiscount
	RoleDeduction
	RoleUsageLimit
	RoleSlot
)

// FieldClassifier is the name-matching strategy mapping form fields to
// coupon-request values. Site markup drift is absorbed by swapping
// this one function.
type FieldClassifier func(field FormField) FieldRole

func DefaultFieldClassifier(field FormField) FieldRole {
	name := field.Name
	switch {
	case textutil.MatchName(name, []string{"authenticity"}):
		return RoleSkip
	case textutil.MatchName(name, []string{"code", "key", "name", "title", "label"}):
		return RoleCode
	case textutil.MatchName(name, []string{"discount", "percent"}):
		return RoleDiscount
	case textutil.MatchName(name, []string{"deduction"}):
		return RoleDeduction
	case textutil.MatchName(name, []string{"slot"}):
		return RoleSlot
	case textutil.MatchName(name, []string{"usage", "limit", "max", "count"}):
		return RoleUsageLimit
	}
	return RoleNone
}

var otpFieldNames = []string{"code", "token", "otp", "pin", "verificationcode", "verifycode"}

// guessCodeField picks the field most likely to take the one-time
// confirmation code, by name similarity first and the first empty
// textual field as a fallback.
func guessCodeField(snap FormSnapshot) string {
	for _, f := range snap.Fields {
		if !f.textual() {
			continue
		}
		if _, score := textutil.BestMatch(f.Name, otpFieldNames); score >= 0.85 {
			return f.Name
		}
	}
	for _, f := range snap.Fields {
		if f.textual() && !f.Multiple && f.Value == "" {
			return f.Name
		}
	}
	return ""
}
