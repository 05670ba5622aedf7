package models

// RawField is one named cell exactly as decoded from the feed.
type RawField struct {
	Name  string
	Value string
}

// RawRecord is a decoded CSV line before any typing is applied.
type RawRecord struct {
	Line   int
	Fields []RawField
}

// Get returns the value of the first field called name.
func (r RawRecord) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// RawFrame is the parser output: the cleaned header plus surviving records.
type RawFrame struct {
	Columns []string
	Records []RawRecord
	// Skipped counts lines dropped for bad syntax, field count or encoding.
	Skipped int
}
