package daemon

import (
	"regexp"
	"strings"
)

// scrapeState is the explicit three-state FSM spec.md §4.5 names for
// pane-scrape response capture, implemented as an enum-driven switch per
// SPEC_FULL.md §4.5's design note rather than nested conditionals.
type scrapeState string

const (
	stateUnknown    scrapeState = "unknown"
	stateProcessing scrapeState = "processing"
	stateIdle       scrapeState = "idle"
)

// exitReason names why the state machine early-exited a poll.
type exitReason string

const (
	reasonNone           exitReason = ""
	reasonPromptReturned exitReason = "prompt-returned"
	reasonFastResponse   exitReason = "fast-response"
	reasonErrorDetected  exitReason = "error-detected"
	reasonStuckInput     exitReason = "stuck-input"
)

// Patterns is the named, app-specific regex vocabulary spec.md §4.5
// requires each secondary AI to contribute one entry of (the
// "app-specific idle hint"), exposed as a config struct per
// SPEC_FULL.md §9's design note rather than buried in daemon code.
type Patterns struct {
	// IdleHint is this AI's own idle-footer regex, e.g. a context-left
	// percentage string or a known idle banner.
	IdleHint *regexp.Regexp
}

var (
	processingIndicatorRe = regexp.MustCompile(`(?i)\b(thinking|loading|processing|generating)\b|esc to interrupt|[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]|\.{4,}`)
	promptPatternRe       = regexp.MustCompile(`^\s*[>❯›$]\s+`)
	errorPatternRe        = regexp.MustCompile(`(?i)\b(error|fatal|exception|panic|refused|denied|failed)\b`)
	sidebarSeparatorRe    = regexp.MustCompile(`\s{10,}`)
)

// scrapeMachine holds the running state between polls of a single
// daemon's pane-scrape capture.
type scrapeMachine struct {
	patterns Patterns

	state              scrapeState
	idleHintStreak     int
	sentMessagePrefix  string
	lastExtracted      string
	stableExtractCount int
	// pendingReason is set once a transition rule first fires and
	// cleared on the next beginSend. While it is prompt-returned,
	// subsequent polls continue the stability check regardless of the
	// main state field, so that verdict isn't lost the moment state
	// flips to idle.
	pendingReason exitReason
}

func newScrapeMachine(p Patterns) *scrapeMachine {
	return &scrapeMachine{patterns: p, state: stateUnknown}
}

// beginSend records the prefix of the message just injected, used both
// by response extraction (finding where the reply begins) and by the
// stuck-input check (detecting the prompt never actually submitted).
func (m *scrapeMachine) beginSend(message string) {
	const prefixLen = 40
	trimmed := strings.TrimSpace(message)
	if len(trimmed) > prefixLen {
		trimmed = trimmed[:prefixLen]
	}
	m.sentMessagePrefix = trimmed
	m.state = stateUnknown
	m.idleHintStreak = 0
	m.lastExtracted = ""
	m.stableExtractCount = 0
	m.pendingReason = reasonNone
}

// pollResult is what one poll of the pane-scrape state machine yields.
// Done is false for "keep polling"; when Done is true, Reason says why,
// and only reasonPromptReturned/reasonFastResponse carry extracted
// content in Text. reasonErrorDetected carries the matched error line in
// Text but callers must treat it as a failure marker, not a partial
// response (see DESIGN.md's Open Question 2 decision).
// reasonStuckInput carries no text at all: the send never landed, so
// the caller fails the attempt and retries, counting it toward
// maxRetries (Open Question 3).
type pollResult struct {
	Done   bool
	Reason exitReason
	Text   string
}

// poll evaluates one pane-output snapshot against the current state.
func (m *scrapeMachine) poll(output string) pollResult {
	lines := strings.Split(output, "\n")

	// Once a prompt-returned verdict has fired, keep re-running the
	// 2-poll stability check for it on every subsequent poll,
	// independent of `state` (which has already moved on to idle). This
	// requirement is specific to prompt-returned extraction (spec.md
	// §4.5 step 4); the fast-response path's own "idle hint twice in a
	// row" condition already serves as its stability gate.
	if m.pendingReason == reasonPromptReturned {
		if text, ready := m.extractAndCheckStable(lines, output); ready {
			return pollResult{Done: true, Reason: m.pendingReason, Text: text}
		}
		return pollResult{}
	}

	if m.stuckInputDetected(lines) {
		return pollResult{Done: true, Reason: reasonStuckInput}
	}

	if processingIndicatorRe.MatchString(output) {
		m.state = stateProcessing
		m.idleHintStreak = 0
		return pollResult{}
	}

	if errorPatternRe.MatchString(lastNonEmptyLines(lines, 5)) && m.state == stateProcessing {
		m.state = stateIdle
		return pollResult{Done: true, Reason: reasonErrorDetected, Text: m.extractErrorLine(lines)}
	}

	if m.state == stateProcessing && containsPromptLine(lines) {
		m.state = stateIdle
		m.pendingReason = reasonPromptReturned
		if text, ready := m.extractAndCheckStable(lines, output); ready {
			return pollResult{Done: true, Reason: reasonPromptReturned, Text: text}
		}
		return pollResult{}
	}

	if m.patterns.IdleHint != nil && m.patterns.IdleHint.MatchString(output) &&
		(m.state == stateUnknown || m.state == stateIdle) {
		m.idleHintStreak++
		if m.idleHintStreak >= 2 {
			m.state = stateIdle
			m.pendingReason = reasonFastResponse
			return pollResult{Done: true, Reason: reasonFastResponse, Text: extractResponse(lines, m.sentMessagePrefix)}
		}
		return pollResult{}
	}
	m.idleHintStreak = 0

	return pollResult{}
}

func (m *scrapeMachine) stuckInputDetected(lines []string) bool {
	if m.sentMessagePrefix == "" || m.state == stateProcessing {
		return false
	}
	tail := lastNonEmptyLines(lines, 3)
	if !strings.Contains(tail, m.sentMessagePrefix) || processingIndicatorRe.MatchString(tail) {
		return false
	}
	// Reply text below the sent prefix (other than the idle footer) means
	// the message was submitted and answered, not left in the input line.
	for _, l := range strings.Split(extractResponse(lines, m.sentMessagePrefix), "\n") {
		if l != "" && (m.patterns.IdleHint == nil || !m.patterns.IdleHint.MatchString(l)) {
			return false
		}
	}
	return true
}

func (m *scrapeMachine) extractErrorLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if errorPatternRe.MatchString(lines[i]) {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

// extractAndCheckStable implements the response-extraction algorithm:
// find the sent-message prefix, take everything after it, filter
// decorative chrome, and require the result to repeat across two
// consecutive polls before treating it as final.
func (m *scrapeMachine) extractAndCheckStable(lines []string, output string) (string, bool) {
	extracted := extractResponse(lines, m.sentMessagePrefix)
	if extracted == m.lastExtracted && extracted != "" {
		m.stableExtractCount++
	} else {
		m.stableExtractCount = 1
		m.lastExtracted = extracted
	}

	if m.stableExtractCount >= 2 {
		return extracted, true
	}
	return "", false
}

// extractResponse finds the last occurrence of prefix in lines and
// returns the cleaned text following it.
func extractResponse(lines []string, prefix string) string {
	startIdx := -1
	if prefix != "" {
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.Contains(lines[i], prefix) {
				startIdx = i + 1
				break
			}
		}
	}
	if startIdx < 0 {
		startIdx = 0
	}

	var out []string
	for _, line := range lines[startIdx:] {
		if cleaned, ok := cleanResponseLine(line); ok {
			out = append(out, cleaned)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// cleanResponseLine filters a single line of captured response text per
// spec.md §4.5 step 2/3: drop empty lines, prompt-pattern lines, and
// decorative chrome; cut at the first long whitespace run (sidebar
// separator).
func cleanResponseLine(line string) (string, bool) {
	trimmed := strings.TrimRight(line, "\r")
	if strings.TrimSpace(trimmed) == "" {
		return "", false
	}
	if promptPatternRe.MatchString(trimmed) {
		return "", false
	}
	if isDecorativeChrome(trimmed) {
		return "", false
	}
	if loc := sidebarSeparatorRe.FindStringIndex(trimmed); loc != nil {
		trimmed = trimmed[:loc[0]]
	}
	trimmed = strings.TrimLeft(trimmed, "│|┃▏ ")
	if strings.TrimSpace(trimmed) == "" {
		return "", false
	}
	return trimmed, true
}

func isDecorativeChrome(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	// Box-drawing borders and pure glyph/rule lines.
	for _, r := range trimmed {
		switch r {
		case '─', '━', '═', '┌', '┐', '└', '┘', '│', '┃', '╭', '╮', '╰', '╯', '▏', '▕':
			continue
		default:
			return false
		}
	}
	return true
}

func containsPromptLine(lines []string) bool {
	for _, l := range lines {
		if promptPatternRe.MatchString(l) {
			return true
		}
	}
	return false
}

func lastNonEmptyLines(lines []string, n int) string {
	var collected []string
	for i := len(lines) - 1; i >= 0 && len(collected) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			collected = append([]string{lines[i]}, collected...)
		}
	}
	return strings.Join(collected, "\n")
}
