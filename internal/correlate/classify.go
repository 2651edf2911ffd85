package correlate

import "strings"

// Kind is the coarse classification of a test failure, derived from
// recognizable substrings in its error message.
type Kind string

const (
	KindAssertion Kind = "assertion_error"
	KindType      Kind = "type_error"
	KindAttribute Kind = "attribute_error"
	KindImport    Kind = "import_error"
	KindKey       Kind = "key_error"
	KindIndex     Kind = "index_error"
	KindUnknown   Kind = "unknown"
)

// markers is checked in order; the first match wins.
var markers = []struct {
	substr string
	kind   Kind
}{
	{"assertionerror", KindAssertion},
	{"typeerror", KindType},
	{"attributeerror", KindAttribute},
	{"importerror", KindImport},
	{"keyerror", KindKey},
	{"indexerror", KindIndex},
}

// Classify maps an error message to a failure kind. Matching is
// case-insensitive; a message with no known marker is KindUnknown.
func Classify(message string) Kind {
	m := strings.ToLower(message)
	for _, mk := range markers {
		if strings.Contains(m, mk.substr) {
			return mk.kind
		}
	}
	return KindUnknown
}
