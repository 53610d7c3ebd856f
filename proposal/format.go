package proposal

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	displayMaxRunes = 120
	displayMaxItems = 6
)

// FormatValue renders a value for humans. Numbers are interpreted per field:
// screen_time numbers are minutes ("2h 30m"), bedtime_schedule numbers are
// minutes from midnight on a 12-hour clock ("9:30 PM").
func FormatValue(changeType ChangeType, v ChangeValue) string {
	switch v.Kind {
	case KindString:
		return clip(v.Str)
	case KindNumber:
		switch changeType {
		case ChangeScreenTime:
			return formatMinutes(v.Num)
		case ChangeBedtimeSchedule:
			return formatClock(v.Num)
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		if v.Bool {
			return "enabled"
		}
		return "disabled"
	case KindList:
		return formatList(v.List)
	case KindMap:
		return formatMap(v.Map)
	}
	return "(unknown)"
}

// FormatChange renders an old-to-new summary for one field.
func FormatChange(changeType ChangeType, from *ChangeValue, to ChangeValue) string {
	before := "(not set)"
	if from != nil {
		before = FormatValue(changeType, *from)
	}
	return before + " -> " + FormatValue(changeType, to)
}

// Summary renders a one-line description of what a proposal changes.
func Summary(p Proposal) string {
	label := strings.ReplaceAll(string(p.ChangeType), "_", " ")
	return label + ": " + FormatChange(p.ChangeType, p.OriginalValue, p.ProposedValue)
}

func formatMinutes(n float64) string {
	total := int(math.Round(n))
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%dh %dm", total/60, total%60)
}

func formatClock(n float64) string {
	total := int(math.Round(n))
	minutes := ((total % 1440) + 1440) % 1440
	hour := minutes / 60
	minute := minutes % 60
	meridiem := "AM"
	if hour >= 12 {
		meridiem = "PM"
	}
	hour12 := hour % 12
	if hour12 == 0 {
		hour12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", hour12, minute, meridiem)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	if len(items) <= displayMaxItems {
		return clip(strings.Join(items, ", "))
	}
	head := strings.Join(items[:displayMaxItems], ", ")
	return clip(fmt.Sprintf("%s, and %d more", head, len(items)-displayMaxItems))
}

func formatMap(m map[string]any) string {
	if len(m) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s: %v", k, m[k]))
	}
	return clip(strings.Join(pairs, ", "))
}

func clip(s string) string {
	runes := []rune(s)
	if len(runes) <= displayMaxRunes {
		return s
	}
	return string(runes[:displayMaxRunes-3]) + "..."
}
