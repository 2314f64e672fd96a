package holdings

import "strings"

// Identity is the canonical (depository, client, normalized name) triple that
// one holder/security position keeps across files. It is a comparable struct
// so it can key maps directly; no separator character can collide with field
// content the way a concatenated string key could.
type Identity struct {
	DPID     string
	ClientID string
	Name     string
}

// NormalizeName strips leading/trailing whitespace and leading/trailing runs
// of '.' characters, preserving internal punctuation. Idempotent.
func NormalizeName(s string) string {
	return strings.Trim(s, " \t\r\n.")
}

// NewIdentity builds the canonical identity for a raw row.
func NewIdentity(dpid, clientID, rawName string) Identity {
	return Identity{
		DPID:     strings.TrimSpace(dpid),
		ClientID: strings.TrimSpace(clientID),
		Name:     NormalizeName(rawName),
	}
}

// escapePipe keeps the '|' separator unambiguous in rendered keys. The broken
// bar is outside every depository/client charset we ingest.
func escapePipe(s string) string {
	return strings.ReplaceAll(s, "|", "¦")
}

// Key renders the identity as "dpid|clientId|name" for export tables and
// spreadsheet lookup keys. In-process code should compare Identity values
// directly; this form exists for consumers that need a single text column.
func (id Identity) Key() string {
	return escapePipe(id.DPID) + "|" + escapePipe(id.ClientID) + "|" + escapePipe(id.Name)
}
