package domain

import (
	"fmt"
	"strings"
)

type ContactFieldKind string

const (
	ContactEmail ContactFieldKind = "email"
	ContactTel   ContactFieldKind = "tel"
)

type ContactField struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
	Pref  bool   `json:"pref,omitempty"`
}

// Contact is supplied by the contacts collaborator and is read-only here.
type Contact struct {
	Name  []string       `json:"name,omitempty"`
	Email []ContactField `json:"email,omitempty"`
	Tel   []ContactField `json:"tel,omitempty"`
}

func (c *Contact) fields(kind ContactFieldKind) []ContactField {
	switch kind {
	case ContactEmail:
		return c.Email
	case ContactTel:
		return c.Tel
	}
	return nil
}

// Preferred returns the preferred entry of a field, falling back to the
// first one. ok is false when the contact has no entry of that kind.
func (c *Contact) Preferred(kind ContactFieldKind) (ContactField, bool) {
	fields := c.fields(kind)
	if len(fields) == 0 {
		return ContactField{}, false
	}
	for _, f := range fields {
		if f.Pref {
			return f, true
		}
	}
	return fields[0], true
}

// Validate enforces at most one preferred entry per field kind.
func (c *Contact) Validate() error {
	for _, kind := range []ContactFieldKind{ContactEmail, ContactTel} {
		n := 0
		for _, f := range c.fields(kind) {
			if f.Pref {
				n++
			}
		}
		if n > 1 {
			return fmt.Errorf("contact has %d preferred %s entries", n, kind)
		}
	}
	return nil
}

// Addresses lists every email verbatim followed by every phone number
// reduced to its digits, keeping a single leading "+".
func (c *Contact) Addresses() []string {
	if c == nil {
		return nil
	}
	addrs := make([]string, 0, len(c.Email)+len(c.Tel))
	for _, f := range c.Email {
		addrs = append(addrs, f.Value)
	}
	for _, f := range c.Tel {
		addrs = append(addrs, NormalizePhoneNumber(f.Value))
	}
	return addrs
}

func NormalizePhoneNumber(number string) string {
	prefix := ""
	if strings.HasPrefix(number, "+") {
		prefix = "+"
		number = number[1:]
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	return prefix + digits
}
