// Package vcs wraps git subprocess calls for checkpoint commits. Commit
// messages carry a structured trailer line associating the commit with a
// plantrack user, plan, and step. No database imports here.
package vcs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tag is the structured trailer embedded as the last line of checkpoint
// commit messages:
//
//	[plan:user=alice,plan=build-auth,step=3]
type Tag struct {
	User string
	Plan string
	Step int // 0 means unset
}

var tagPattern = regexp.MustCompile(`\[plan:([^\]]+)\]`)

// String renders the trailer line. Zero-valued fields are omitted.
func (t Tag) String() string {
	var parts []string
	if t.User != "" {
		parts = append(parts, "user="+t.User)
	}
	if t.Plan != "" {
		parts = append(parts, "plan="+t.Plan)
	}
	if t.Step > 0 {
		parts = append(parts, "step="+strconv.Itoa(t.Step))
	}
	return "[plan:" + strings.Join(parts, ",") + "]"
}

// BuildMessage appends the trailer to a commit message.
func BuildMessage(message string, tag Tag) string {
	return fmt.Sprintf("%s\n%s", message, tag)
}

// ParseTag extracts a Tag from a commit message. The second return is false
// when no trailer is present. Unknown keys are ignored; a malformed step
// value leaves Step at zero.
func ParseTag(message string) (Tag, bool) {
	m := tagPattern.FindStringSubmatch(message)
	if m == nil {
		return Tag{}, false
	}
	var tag Tag
	for _, part := range strings.Split(m[1], ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "user":
			tag.User = value
		case "plan":
			tag.Plan = value
		case "step":
			if n, err := strconv.Atoi(value); err == nil {
				tag.Step = n
			}
		}
	}
	return tag, true
}

// StripTag removes the trailer line from a commit message.
func StripTag(message string) string {
	return strings.TrimRight(tagPattern.ReplaceAllString(message, ""), "\n ")
}
