package segment

import (
	"fmt"
	"strconv"
	"strings"
)

// manifest is the parsed form of the repackager's output playlist: the init
// segment file name and the ordered media segment file names with their
// derived time boundaries.
type manifest struct {
	InitFile    string
	Files       []string
	Descriptors []Descriptor
}

const defaultInitFile = "init.mp4"

// parsePlaylist reads an HLS VOD playlist (as written by the fMP4
// repackager) and derives the segment descriptor sequence from the EXTINF
// durations. Start times are cumulative, so contiguity holds by
// construction.
func parsePlaylist(content string) (*manifest, error) {
	m := &manifest{InitFile: defaultInitFile}

	var pendingDuration float64
	havePending := false
	start := 0.0

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			if uri := extractMapURI(line); uri != "" {
				m.InitFile = uri
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			val := strings.TrimPrefix(line, "#EXTINF:")
			val = strings.TrimSuffix(strings.TrimSpace(val), ",")
			d, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("bad EXTINF %q: %w", line, err)
			}
			pendingDuration = d
			havePending = true
		case strings.HasPrefix(line, "#"):
			// other tags carry no boundary information
		default:
			if !havePending {
				return nil, fmt.Errorf("segment entry %q without EXTINF", line)
			}
			idx := len(m.Descriptors)
			m.Files = append(m.Files, line)
			m.Descriptors = append(m.Descriptors, Descriptor{
				Index:    idx,
				Start:    start,
				End:      start + pendingDuration,
				Duration: pendingDuration,
			})
			start += pendingDuration
			havePending = false
		}
	}

	if len(m.Descriptors) == 0 {
		return nil, fmt.Errorf("playlist contains no segments")
	}
	return m, nil
}

// extractMapURI pulls the URI attribute out of an #EXT-X-MAP tag.
func extractMapURI(line string) string {
	const key = `URI="`
	i := strings.Index(line, key)
	if i < 0 {
		return ""
	}
	rest := line[i+len(key):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return ""
	}
	return rest[:j]
}
