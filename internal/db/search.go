package db

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern turns free-text search input into a lower-case LIKE pattern
// matching the text anywhere. Wildcards typed by the user match literally.
// Blank input yields "".
func ContainsPattern(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return ""
	}
	return "%" + likeEscaper.Replace(q) + "%"
}
