// Package buildlog extracts the failure signature from Jenkins console logs.
//
// Analysis is heuristic and offline: error lines are found by pattern,
// widened with a little surrounding context, classified into a coarse error
// type, and turned into search queries for the knowledge base.
package buildlog

import (
	"regexp"
	"strings"
)

// Defaults for Analyze.
const (
	DefaultMaxLines      = 100
	DefaultContextTokens = 2000
)

var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\[ERROR\]`),
	regexp.MustCompile(`^\[FATAL\]`),
	regexp.MustCompile(`(?i)^ERROR:`),
	regexp.MustCompile(`(?i)^FATAL:`),
	regexp.MustCompile(`(?i)Exception:`),
	regexp.MustCompile(`(?i)Error:`),
	regexp.MustCompile(`(?i)BUILD FAILED`),
	regexp.MustCompile(`(?i)FAILURE`),
	regexp.MustCompile(`(?i)Failed to`),
	regexp.MustCompile(`(?i)Could not`),
	regexp.MustCompile(`(?i)Cannot `),
	regexp.MustCompile(`^\s+at\s+[\w.$]+\(`),
}

// Analysis is the result of analyzing a log.
type Analysis struct {
	// ErrorLines are the matched lines with two lines before and five after,
	// in log order.
	ErrorLines []string

	// ErrorType is a coarse classification, or empty when unknown.
	ErrorType string

	// SearchQueries are up to three knowledge base queries.
	SearchQueries []string

	// Excerpt is the error lines joined and truncated to the context window.
	Excerpt string
}

// Analyze inspects a (sanitized) log.
func Analyze(log string) Analysis {
	lines := ExtractErrorLines(log, DefaultMaxLines)
	errType := IdentifyErrorType(lines)
	return Analysis{
		ErrorLines:    lines,
		ErrorType:     errType,
		SearchQueries: SearchQueries(errType, lines),
		Excerpt:       Truncate(strings.Join(lines, "\n"), DefaultContextTokens*4),
	}
}

// ExtractErrorLines returns the lines matching an error pattern plus their
// context. When more than maxLines qualify the latest ones are kept, since
// the last errors in a log are usually the relevant ones.
func ExtractErrorLines(log string, maxLines int) []string {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	lines := strings.Split(log, "\n")
	keep := make([]bool, len(lines))
	for i, line := range lines {
		for _, p := range errorPatterns {
			if p.MatchString(line) {
				for j := max(0, i-2); j < min(len(lines), i+6); j++ {
					keep[j] = true
				}
				break
			}
		}
	}

	var out []string
	for i, k := range keep {
		if k {
			out = append(out, lines[i])
		}
	}
	if len(out) > maxLines {
		out = out[len(out)-maxLines:]
	}
	return out
}

// IdentifyErrorType classifies error lines. Checks run from the most to the
// least specific.
func IdentifyErrorType(lines []string) string {
	combined := strings.Join(lines, "\n")
	lower := strings.ToLower(combined)

	switch {
	case strings.Contains(combined, "NullPointerException"):
		return "NullPointerException"
	case strings.Contains(combined, "OutOfMemoryError"):
		return "OutOfMemoryError"
	case strings.Contains(combined, "ClassNotFoundException"):
		return "ClassNotFoundException"
	case strings.Contains(combined, "NoSuchMethodError"):
		return "NoSuchMethodError"
	case strings.Contains(combined, "Could not resolve dependencies"):
		return "DependencyResolutionError"
	case strings.Contains(lower, "compilation failure"):
		return "CompilationError"
	case strings.Contains(lower, "test failure"), strings.Contains(lower, "tests failed"):
		return "TestFailure"
	case strings.Contains(combined, "npm ERR!"):
		return "NpmError"
	case strings.Contains(lower, "pip install") && strings.Contains(lower, "error"):
		return "PipInstallError"
	case strings.Contains(lower, "docker") && strings.Contains(lower, "error"):
		return "DockerError"
	case strings.Contains(lower, "permission denied"):
		return "PermissionError"
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "timeout"):
		return "NetworkError"
	}
	return ""
}

var (
	bracketPrefix = regexp.MustCompile(`\[[\w\-:]+\]\s*`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// SearchQueries derives up to three knowledge base queries.
func SearchQueries(errType string, lines []string) []string {
	var queries []string
	if errType != "" {
		queries = append(queries, "Jenkins "+errType+" fix solution")
	}

	for _, line := range lines {
		if !strings.Contains(line, "Exception") && !strings.Contains(line, "Error") {
			continue
		}
		cleaned := strings.TrimSpace(spaceRun.ReplaceAllString(bracketPrefix.ReplaceAllString(line, ""), " "))
		if len(cleaned) > 15 && len(cleaned) < 200 {
			queries = append(queries, cleaned)
			break
		}
	}

	lower := strings.ToLower(strings.Join(lines, "\n"))
	switch {
	case strings.Contains(lower, "maven"):
		queries = append(queries, "Jenkins Maven build failure troubleshooting")
	case strings.Contains(lower, "gradle"):
		queries = append(queries, "Jenkins Gradle build failure troubleshooting")
	case strings.Contains(lower, "npm"):
		queries = append(queries, "Jenkins npm build failure troubleshooting")
	}

	if len(queries) > 3 {
		queries = queries[:3]
	}
	return queries
}

// Truncate cuts text to maxChars, marking the cut.
func Truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "\n... [truncated]"
}
