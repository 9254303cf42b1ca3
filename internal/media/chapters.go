// ABOUTME: Chapter markers parsed from show notes ("0:00 Intro<br>12:34 Topic")
// ABOUTME: Used when a media file carries no embedded chapter frames

package media

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxDescriptionLines bounds how much of a description is scanned.
const maxDescriptionLines = 201

// Chapter is a titled section of time based media.
type Chapter struct {
	Start   time.Duration
	End     time.Duration
	Title   string
	Artwork *Picture
}

// Duration is the chapter length.
func (c Chapter) Duration() time.Duration {
	return c.End - c.Start
}

var chapterLine = regexp.MustCompile(`(?:(\d{1,2}):)?(\d{1,2}):(\d{2}) (?:[-–—] )?(.+)`)

type chapterMatch struct {
	start time.Duration
	title string
}

func matchChapter(line string) *chapterMatch {
	m := chapterLine.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	return &chapterMatch{
		start: time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second,
		title: m[4],
	}
}

// Chapters parses timestamped lines separated by <br> from a description.
// The first chapter must start at zero and starts must not go backwards.
// Each chapter ends where the next begins; the last ends at its own start.
// Parsing stops at the first line after the chapters that is not one, or
// that goes back in time.
// Returns nil when the description holds no chapters.
func Chapters(description string) []Chapter {
	lines := strings.SplitN(description, "<br>", maxDescriptionLines)
	matches := make([]*chapterMatch, len(lines))
	for i, line := range lines {
		matches[i] = matchChapter(line)
	}

	var chapters []Chapter
	for i, m := range matches {
		var next *chapterMatch
		if i+1 < len(matches) && matches[i+1] != nil && m != nil && matches[i+1].start >= m.start {
			next = matches[i+1]
		}

		var lastEnd time.Duration
		if len(chapters) > 0 {
			lastEnd = chapters[len(chapters)-1].End
		}

		if m == nil || m.start < lastEnd {
			if len(chapters) > 0 {
				break
			}
			continue
		}

		switch {
		case next != nil && len(chapters) == 0:
			if m.start == 0 {
				chapters = append(chapters, Chapter{Start: m.start, End: next.start, Title: m.title})
			}
		case next != nil:
			chapters = append(chapters, Chapter{Start: m.start, End: next.start, Title: m.title})
		case len(chapters) > 0:
			chapters = append(chapters, Chapter{Start: m.start, End: m.start, Title: m.title})
		}
	}

	if len(chapters) == 0 {
		return nil
	}
	return chapters
}
