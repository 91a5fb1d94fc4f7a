// Package security validates SQL queries and identifiers before they reach
// the warehouse. Only read-only SELECT statements are allowed through.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const maxQueryLength = 10 * 1024

var (
	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

	forbiddenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`;`),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`(?s)/\*.*?\*/`),
		regexp.MustCompile(`(?i)\bload_file\b`),
		regexp.MustCompile(`(?i)\binto\s+(outfile|dumpfile)\b`),
	}

	reservedNames = map[string]struct{}{
		"information_schema": {},
		"mysql":              {},
		"performance_schema": {},
		"sys":                {},
	}
)

// Stats counts validation outcomes since startup.
type Stats struct {
	QueriesValidated int64 `json:"queries_validated"`
	QueriesRejected  int64 `json:"queries_rejected"`
	NamesValidated   int64 `json:"names_validated"`
	NamesRejected    int64 `json:"names_rejected"`
}

// Manager validates queries and identifiers and tracks counts. Safe for
// concurrent use.
type Manager struct {
	log logrus.FieldLogger

	mu    sync.Mutex
	stats Stats
}

// NewManager returns a ready Manager.
func NewManager(log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{log: log}
}

// ValidateQuery checks that query is a single read-only SELECT statement
// free of injection staples.
func (m *Manager) ValidateQuery(query string) error {
	m.mu.Lock()
	m.stats.QueriesValidated++
	m.mu.Unlock()

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return m.rejectQuery("query is empty")
	}
	if len(trimmed) > maxQueryLength {
		return m.rejectQuery(fmt.Sprintf("query exceeds %d bytes", maxQueryLength))
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return m.rejectQuery("only SELECT statements are allowed")
	}
	for _, pattern := range forbiddenPatterns {
		if pattern.MatchString(trimmed) {
			return m.rejectQuery(fmt.Sprintf("query contains forbidden pattern %q", pattern.String()))
		}
	}
	if strings.Count(trimmed, "(") != strings.Count(trimmed, ")") {
		return m.rejectQuery("unbalanced parentheses")
	}
	return nil
}

// ValidateDatabaseName checks a database identifier.
func (m *Manager) ValidateDatabaseName(name string) error {
	return m.validateName("database", name)
}

// ValidateTableName checks a table identifier.
func (m *Manager) ValidateTableName(name string) error {
	return m.validateName("table", name)
}

func (m *Manager) validateName(kind, name string) error {
	m.mu.Lock()
	m.stats.NamesValidated++
	m.mu.Unlock()

	if name == "" {
		return m.rejectName(fmt.Sprintf("%s name is empty", kind))
	}
	if len(name) > 64 {
		return m.rejectName(fmt.Sprintf("%s name exceeds 64 characters", kind))
	}
	if !identifierPattern.MatchString(name) {
		return m.rejectName(fmt.Sprintf("%s name contains invalid characters", kind))
	}
	if _, ok := reservedNames[strings.ToLower(name)]; ok {
		return m.rejectName(fmt.Sprintf("%s name %q is reserved", kind, name))
	}
	return nil
}

func (m *Manager) rejectQuery(reason string) error {
	m.mu.Lock()
	m.stats.QueriesRejected++
	m.mu.Unlock()
	m.log.WithField("reason", reason).Warn("rejected query")
	return fmt.Errorf("query rejected: %s", reason)
}

func (m *Manager) rejectName(reason string) error {
	m.mu.Lock()
	m.stats.NamesRejected++
	m.mu.Unlock()
	m.log.WithField("reason", reason).Warn("rejected identifier")
	return fmt.Errorf("identifier rejected: %s", reason)
}

// Stats returns a snapshot of the validation counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
