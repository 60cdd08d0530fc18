package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/dirgo/entry"
	"github.com/hupe1980/dirgo/value"
)

// FromEntries builds a schema from stored definition entries, layered over
// the compiled-in core. A definition entry with the same name as a core
// definition replaces it, which is how indexes are added to core attributes.
// The resulting schema must pass SelfCheck or the reload fails.
func FromEntries(entries []*entry.Entry) (*Schema, error) {
	s := Core()
	for _, e := range entries {
		if !e.IsLive() {
			continue
		}
		switch {
		case e.HasClass(ClassAttributeType):
			at, err := parseAttributeType(e)
			if err != nil {
				return nil, err
			}
			s.attributes[strings.ToLower(at.Name)] = at
		case e.HasClass(ClassClassType):
			ct, err := parseClassType(e)
			if err != nil {
				return nil, err
			}
			s.classes[strings.ToLower(ct.Name)] = ct
		}
	}
	if errs := s.SelfCheck(); len(errs) > 0 {
		return nil, fmt.Errorf("schema reload: %w", errors.Join(errs...))
	}
	return s, nil
}

func parseAttributeType(e *entry.Entry) (*AttributeType, error) {
	name, ok := e.OneText(AttrAttributeName)
	if !ok {
		return nil, &Error{Attr: AttrAttributeName, Reason: "attribute definition is missing its name"}
	}

	syntaxTok, ok := e.OneText(AttrSyntax)
	if !ok {
		return nil, &Error{Attr: name, Reason: "attribute definition is missing its syntax"}
	}
	syntax, err := value.ParseKind(syntaxTok)
	if err != nil {
		return nil, &Error{Attr: name, Reason: fmt.Sprintf("invalid syntax token %q", syntaxTok)}
	}

	at := &AttributeType{
		Name:       strings.ToLower(name),
		MultiValue: boolAttr(e, AttrMultiValue),
		Unique:     boolAttr(e, AttrUnique),
		Syntax:     syntax,
	}
	if desc, ok := e.OneText(entry.AttrDescription); ok {
		at.Description = desc
	}
	for _, v := range e.Values(AttrIndex) {
		it, err := ParseIndexType(v.Text())
		if err != nil {
			return nil, &Error{Attr: name, Reason: fmt.Sprintf("invalid index token %q", v.Text())}
		}
		at.Index = append(at.Index, it)
	}
	return at, nil
}

func parseClassType(e *entry.Entry) (*ClassType, error) {
	name, ok := e.OneText(AttrClassName)
	if !ok {
		return nil, &Error{Attr: AttrClassName, Reason: "class definition is missing its name"}
	}

	ct := &ClassType{
		Name:       strings.ToLower(name),
		SystemMust: textList(e, AttrSystemMust),
		SystemMay:  textList(e, AttrSystemMay),
		Must:       textList(e, AttrMust),
		May:        textList(e, AttrMay),
	}
	if desc, ok := e.OneText(entry.AttrDescription); ok {
		ct.Description = desc
	}
	return ct, nil
}

func boolAttr(e *entry.Entry, attr string) bool {
	t, ok := e.OneText(attr)
	return ok && t == "true"
}

func textList(e *entry.Entry, attr string) []string {
	vals := e.Values(attr)
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, strings.ToLower(v.Text()))
	}
	return out
}
