package xds

import (
	"net/url"
	"strings"
)

const (
	oidPrefix  = "urn:oid:"
	uuidPrefix = "urn:uuid:"

	// referenceSeparator joins authority and value in outward patient ids.
	// An authority that itself contains "-" can produce ambiguous ids.
	referenceSeparator = "-"
)

// Identifiable is a composite identifier: a value qualified by the OID of
// its assigning authority. AuthorityOID never carries a urn:oid: prefix.
type Identifiable struct {
	Value        string `json:"value"`
	AuthorityOID string `json:"authorityOid"`
}

// NewIdentifiable builds an Identifiable, normalizing a urn:oid: prefixed
// authority to its bare OID.
func NewIdentifiable(value, authority string) Identifiable {
	return Identifiable{
		Value:        value,
		AuthorityOID: strings.TrimPrefix(authority, oidPrefix),
	}
}

// String renders the identifier in the HL7 CX form used by XDS patient ids.
func (i Identifiable) String() string {
	return i.Value + "^^^&" + i.AuthorityOID + "&ISO"
}

// URNKind classifies the scheme prefix of a bare identifier.
type URNKind int

const (
	URNUnprefixed URNKind = iota
	URNOID
	URNUUID
)

func (k URNKind) String() string {
	switch k {
	case URNOID:
		return "oid"
	case URNUUID:
		return "uuid"
	default:
		return "unprefixed"
	}
}

// StripURNPrefix classifies text by its urn:oid: or urn:uuid: prefix and
// returns the remainder. Unprefixed text is returned unchanged.
func StripURNPrefix(text string) (URNKind, string) {
	switch {
	case strings.HasPrefix(text, oidPrefix):
		return URNOID, text[len(oidPrefix):]
	case strings.HasPrefix(text, uuidPrefix):
		return URNUUID, text[len(uuidPrefix):]
	default:
		return URNUnprefixed, text
	}
}

// ParseCompositeReference extracts the identifier=<authority>|<value> query
// parameter from a reference such as
// "http://host/fhir/Patient?identifier=urn:oid:1.2.3|ABC".
// Both parts are query-unescaped after splitting, so escaped '&', '|' and '%'
// inside a value survive. A fully escaped parameter ("urn%3Aoid%3A1.2.3%7CABC")
// is also accepted. Malformed identifier parameters are skipped; it reports
// false when none is usable.
func ParseCompositeReference(text string) (*Identifiable, bool) {
	idx := strings.Index(text, "?")
	if idx < 0 {
		return nil, false
	}

	for _, fragment := range strings.Split(text[idx+1:], "&") {
		if !strings.HasPrefix(fragment, "identifier=") {
			continue
		}
		raw := strings.TrimPrefix(fragment, "identifier=")
		if !strings.Contains(raw, "|") {
			// The separator itself was escaped.
			unescaped, err := url.QueryUnescape(raw)
			if err != nil {
				continue
			}
			raw = unescaped
		}

		parts := strings.Split(raw, "|")
		if len(parts) != 2 {
			continue
		}
		authority, err := url.QueryUnescape(parts[0])
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(parts[1])
		if err != nil {
			continue
		}
		if authority == "" || value == "" {
			continue
		}
		id := NewIdentifiable(value, authority)
		return &id, true
	}
	return nil, false
}

// BuildReferenceID joins authority and value into the externally visible
// composite id.
func BuildReferenceID(authority, value string) string {
	return authority + referenceSeparator + value
}
