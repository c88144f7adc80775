package recwell

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"rectrack-backend/lib/htmlutil"
	"rectrack-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
)

// every strategy has the same contract: read the document, return zero
// or more readings, never fail. a candidate that does not parse is
// skipped, not fatal.

type vocabulary []string

// match returns the first vocabulary entry mentioned in text.
func (v vocabulary) match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, name := range v {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name, true
		}
	}
	return "", false
}

// numeric shapes shared by the regex-based strategies. the occ/cap
// shape always wins over a bare percentage when both could match.
var (
	countsRegex  = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
	percentRegex = regexp.MustCompile(`(\d+(?:\.\d*)?)%`)

	// the literal shape the live-count widget renders,
	// ex. "Capacity: 45/200 // 22.5%"
	widgetCapacityRegex = regexp.MustCompile(`Capacity:\s*(\d+)\s*/\s*(\d+)\s*//\s*([\d.]+)%`)

	jsonFragmentRegex = regexp.MustCompile(`(?i)\{[^{}]*"facility"[^{}]*\}`)
)

func parseCounts(text string) (occupancy, capacity *int64, percentage *float64, ok bool) {
	if m := countsRegex.FindStringSubmatch(text); m != nil {
		occ, err1 := strconv.ParseInt(m[1], 10, 64)
		cap, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 == nil && err2 == nil && cap > 0 {
			pct := float64(occ) / float64(cap) * 100
			return &occ, &cap, &pct, true
		}
	}
	if m := percentRegex.FindStringSubmatch(text); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return nil, nil, &pct, true
		}
	}
	return nil, nil, nil, false
}

func (s *Scraper) newReading(name string, occupancy, capacity *int64, percentage *float64) Reading {
	return Reading{
		Name:       name,
		Time:       timezone.Now(),
		Occupancy:  occupancy,
		Capacity:   capacity,
		Percentage: percentage,
	}
}

// how far up the tree a strategy may look for a facility name around a
// bare number
const ancestorDepth = 3

func (s *Scraper) nameFromAncestry(sel *goquery.Selection) string {
	current := sel
	for depth := 0; depth <= ancestorDepth; depth++ {
		if current.Length() == 0 {
			break
		}
		if name, ok := s.names.match(current.Text()); ok {
			return name
		}
		current = current.Parent()
	}
	return ""
}

// fromContainers targets elements whose class or id hints at facility
// usage and reads a numeric shape out of their text. the facility name
// may live on the element itself or a nearby ancestor.
func (s *Scraper) fromContainers(doc *goquery.Document) []Reading {
	var readings []Reading
	selector := "[class*='facility'], [class*='usage'], [class*='occupancy'], [id*='facility'], [id*='usage']"
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		text := htmlutil.CleanText(sel.Text())
		occ, cap, pct, ok := parseCounts(text)
		if !ok {
			return
		}
		name := s.nameFromAncestry(sel)
		if name == "" {
			return
		}
		readings = append(readings, s.newReading(name, occ, cap, pct))
	})
	return readings
}

// fromWidget targets the live-count widget, the highest-confidence
// shape: explicit name and capacity sub-elements per location.
func (s *Scraper) fromWidget(doc *goquery.Document) []Reading {
	var readings []Reading
	doc.Find(".rw-c2c-feed__location").Each(func(_ int, sel *goquery.Selection) {
		name := htmlutil.CleanText(sel.Find(".rw-c2c-feed__location--name").Text())
		if name == "" {
			return
		}
		capacityText := sel.Find(".rw-c2c-feed__about--capacity").Text()
		m := widgetCapacityRegex.FindStringSubmatch(capacityText)
		if m == nil {
			return
		}
		occ, err1 := strconv.ParseInt(m[1], 10, 64)
		cap, err2 := strconv.ParseInt(m[2], 10, 64)
		pct, err3 := strconv.ParseFloat(m[3], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return
		}
		readings = append(readings, s.newReading(name, &occ, &cap, &pct))
	})
	return readings
}

// fromTables scans table rows with at least two cells and applies the
// shared name+number parse to the row's full text.
func (s *Scraper) fromTables(doc *goquery.Document) []Reading {
	var readings []Reading
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		if row.Find("td").Length() < 2 {
			return
		}
		text := htmlutil.CleanText(row.Text())
		name, ok := s.names.match(text)
		if !ok {
			return
		}
		occ, cap, pct, ok := parseCounts(text)
		if !ok {
			return
		}
		readings = append(readings, s.newReading(name, occ, cap, pct))
	})
	return readings
}

// key aliases observed in embedded json fragments, canonicalized with a
// lookup instead of probing
var jsonFieldAliases = map[string]string{
	"name":       "name",
	"facility":   "name",
	"occupancy":  "occupancy",
	"current":    "occupancy",
	"capacity":   "capacity",
	"max":        "capacity",
	"percentage": "percentage",
	"percent":    "percentage",
}

// fromEmbeddedJSON scans script blocks for inline json fragments with a
// facility-like key. each fragment is parsed defensively, a malformed
// one is skipped and the rest still count.
func (s *Scraper) fromEmbeddedJSON(doc *goquery.Document) []Reading {
	var readings []Reading
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		content := sel.Text()
		lower := strings.ToLower(content)
		if !strings.Contains(lower, "facility") && !strings.Contains(lower, "usage") {
			return
		}
		for _, fragment := range jsonFragmentRegex.FindAllString(content, -1) {
			var raw map[string]any
			err := json.Unmarshal([]byte(fragment), &raw)
			if err != nil {
				continue
			}
			reading, ok := s.readingFromJSON(raw)
			if ok {
				readings = append(readings, reading)
			}
		}
	})
	return readings
}

func (s *Scraper) readingFromJSON(raw map[string]any) (Reading, bool) {
	var name string
	var occupancy, capacity *int64
	var percentage *float64

	for key, value := range raw {
		switch jsonFieldAliases[strings.ToLower(key)] {
		case "name":
			str, ok := value.(string)
			if ok && name == "" {
				name = strings.TrimSpace(str)
			}
		case "occupancy":
			n, ok := jsonInt(value)
			if ok && n >= 0 {
				occupancy = &n
			}
		case "capacity":
			n, ok := jsonInt(value)
			if ok && n > 0 {
				capacity = &n
			}
		case "percentage":
			f, ok := jsonFloat(value)
			if ok {
				percentage = &f
			}
		}
	}

	if name == "" {
		return Reading{}, false
	}
	if _, known := s.names.match(name); !known {
		return Reading{}, false
	}
	if percentage == nil && occupancy != nil && capacity != nil {
		pct := float64(*occupancy) / float64(*capacity) * 100
		percentage = &pct
	}
	if occupancy == nil && capacity == nil && percentage == nil {
		return Reading{}, false
	}
	return s.newReading(name, occupancy, capacity, percentage), true
}

func jsonInt(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func jsonFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// fromText is the last resort: a single pass over the visible page
// text, tracking the most recent facility name seen and attaching the
// next numeric shape to it.
func (s *Scraper) fromText(text string) []Reading {
	var readings []Reading
	var current string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if name, ok := s.names.match(line); ok {
			current = name
		}
		if current == "" {
			continue
		}
		occ, cap, pct, ok := parseCounts(line)
		if !ok {
			continue
		}
		readings = append(readings, s.newReading(current, occ, cap, pct))
		current = ""
	}
	return readings
}
