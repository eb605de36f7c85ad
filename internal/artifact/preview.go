package artifact

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PreviewConfig bounds preview generation per content type.
type PreviewConfig struct {
	LogTailLines      int
	CSVSampleRows     int
	JSONSkeletonDepth int
	TextPreviewChars  int
}

// DefaultPreviewConfig mirrors the engine defaults.
func DefaultPreviewConfig() PreviewConfig {
	return PreviewConfig{
		LogTailLines:      10,
		CSVSampleRows:     2,
		JSONSkeletonDepth: 4,
		TextPreviewChars:  400,
	}
}

// GeneratePreview derives a bounded preview for content. It is pure and
// deterministic: identical input always yields byte-identical output.
func GeneratePreview(content string, contentType ContentType, cfg PreviewConfig) string {
	switch contentType {
	case TypeLog:
		return tailLines(content, cfg.LogTailLines)
	case TypeJSON:
		return jsonSkeleton(content, cfg)
	case TypeCSV:
		return headerPlusRows(content, cfg.CSVSampleRows)
	case TypeSearch:
		return tailLines(content, cfg.LogTailLines)
	default:
		return truncateText(content, cfg.TextPreviewChars)
	}
}

// tailLines keeps the last n lines, noting how many were omitted.
func tailLines(content string, n int) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= n {
		return content
	}
	tail := strings.Join(lines[len(lines)-n:], "\n")
	return fmt.Sprintf("... (%d lines omitted)\n%s", len(lines)-n, tail)
}

// headerPlusRows keeps the header row plus the first rowCount data rows.
func headerPlusRows(content string, rowCount int) string {
	var lines []string
	for _, l := range strings.Split(content, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) <= rowCount+1 {
		return content
	}
	kept := append([]string{lines[0]}, lines[1:1+rowCount]...)
	return strings.Join(kept, "\n") + fmt.Sprintf("\n... (%d more rows)", len(lines)-1-rowCount)
}

// truncateText keeps the first n characters with an ellipsis marker.
func truncateText(content string, n int) string {
	if len(content) <= n {
		return content
	}
	return content[:n] + "..."
}

// jsonSkeleton renders the structural skeleton of a JSON document: leaf
// scalars are replaced by their type tags, structure is preserved up to the
// configured depth. Invalid JSON falls back to a tail-line preview.
func jsonSkeleton(content string, cfg PreviewConfig) string {
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return tailLines(content, cfg.LogTailLines)
	}
	var b strings.Builder
	writeSkeleton(&b, parsed, 0, cfg.JSONSkeletonDepth)
	return b.String()
}

func writeSkeleton(b *strings.Builder, v any, depth, maxDepth int) {
	indent := strings.Repeat("  ", depth)
	switch t := v.(type) {
	case map[string]any:
		if depth >= maxDepth {
			fmt.Fprintf(b, "{... %d keys}", len(t))
			return
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{\n")
		for i, k := range keys {
			fmt.Fprintf(b, "%s  %q: ", indent, k)
			writeSkeleton(b, t[k], depth+1, maxDepth)
			if i < len(keys)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(indent + "}")
	case []any:
		if len(t) == 0 {
			b.WriteString("[]")
			return
		}
		if depth >= maxDepth {
			fmt.Fprintf(b, "[... %d items]", len(t))
			return
		}
		fmt.Fprintf(b, "[")
		writeSkeleton(b, t[0], depth+1, maxDepth)
		if len(t) > 1 {
			fmt.Fprintf(b, ", ... %d more", len(t)-1)
		}
		b.WriteString("]")
	case string:
		b.WriteString("<string>")
	case float64:
		b.WriteString("<number>")
	case bool:
		b.WriteString("<bool>")
	case nil:
		b.WriteString("<null>")
	default:
		b.WriteString("<value>")
	}
}
