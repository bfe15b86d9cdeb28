// Package dataset generates synthetic labeled messages from templates and reads and writes them as csv.
// Templates have slots like {drug} or {location}, each slot is filled with a random word from its list.
package dataset

import (
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/umputun/drugwatch/lib/textclass"
)

// DefaultSize is the default number of generated messages per class
const DefaultSize = 250

// Templates defines message templates per class and words for their slots
type Templates struct {
	Illicit []string            `yaml:"illicit"`
	Safe    []string            `yaml:"safe"`
	Words   map[string][]string `yaml:"words"` // slot name without braces -> fill words
}

// Default returns built-in templates
func Default() Templates {
	return Templates{
		Illicit: []string{
			"Looking for a plug to get some {drug} delivered tonight",
			"Got {drug} available for pickup, DM for prices",
			"Need {drug} ASAP, anyone near {location} can deliver?",
			"Selling premium {drug}, fast delivery guaranteed",
			"Fresh batch of {drug} just arrived, hit me up",
			"{drug} supply chain ready for distribution",
			"Moving {drug} across the border this weekend",
			"Wholesale {drug} available, bulk discounts",
			"New shipment of {drug} landed, first come first served",
			"Connect me with your {drug} supplier in {location}",
			"Got the purest {drug} in {location}, no middleman",
			"Price drop on {drug}, limited stock available",
			"Discreet {drug} delivery to your doorstep",
			"Looking to score some {drug} tonight in {location}",
			"My {drug} guy just re-upped, quality stuff",
			"Running low on {drug}, need a new connect",
			"Can ship {drug} overnight, encrypted payments only",
			"Got a package of {drug} ready for the drop",
			"Meeting the plug for {drug} at the usual spot",
			"Reliable {drug} source, never been caught",
		},
		Safe: []string{
			"Just finished reading a great {item} about {topic}",
			"Anyone recommend a good {item} for {topic}?",
			"Selling my old {item} on marketplace, barely used",
			"Had an amazing {meal} at the new {place} downtown",
			"Looking for study partners for {topic} exam next week",
			"My {item} arrived today and it works perfectly",
			"Going to the {place} this weekend with family",
			"Started learning {topic} online, really enjoying it",
			"Need advice on buying a new {item} for college",
			"The weather in {location} has been beautiful lately",
			"Cooking {meal} for dinner tonight, easy recipe",
			"Anyone want to join a {topic} study group?",
			"Found a great deal on a used {item} locally",
			"Planning a road trip to {location} next month",
			"Best {meal} I have ever had, totally worth it",
			"Working on a {topic} project for my class",
			"Just moved to {location}, looking for friends",
			"My new {item} is so much better than the old one",
			"Volunteering at the local {place} this Saturday",
			"Attended a {topic} workshop and learned so much",
		},
		Words: map[string][]string{
			"drug":  {"powder", "crystal", "pills", "white", "green", "stuff", "product", "pack", "goods", "stash"},
			"item":  {"laptop", "phone", "bicycle", "textbook", "camera", "headphones", "watch", "backpack", "tablet", "guitar"},
			"topic": {"machine learning", "history", "photography", "cooking", "music", "fitness", "coding", "art", "math", "science"},
			"meal":  {"pasta", "sushi", "tacos", "pizza", "salad", "burger", "curry", "soup", "steak", "sandwich"},
			"place": {"park", "library", "gym", "cafe", "museum", "beach", "mall", "theater", "church", "school"},
			"location": {"downtown", "the east side", "midtown", "the suburbs", "uptown", "the west end",
				"the bay area", "the north side"},
		},
	}
}

// LoadTemplates reads templates from a yaml file. Sections missing in the file are taken from built-in templates,
// words are merged per slot.
func LoadTemplates(path string) (Templates, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is set by the operator
	if err != nil {
		return Templates{}, fmt.Errorf("failed to read templates: %w", err)
	}
	var loaded Templates
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Templates{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	res := Default()
	if len(loaded.Illicit) > 0 {
		res.Illicit = loaded.Illicit
	}
	if len(loaded.Safe) > 0 {
		res.Safe = loaded.Safe
	}
	for slot, words := range loaded.Words {
		res.Words[slot] = words
	}
	if err := res.Validate(); err != nil {
		return Templates{}, fmt.Errorf("invalid templates in %s: %w", path, err)
	}
	log.Printf("[DEBUG] templates loaded from %s, illicit: %d, safe: %d", path, len(res.Illicit), len(res.Safe))
	return res, nil
}

// Validate checks both classes have templates and every slot used by a template has words
func (t Templates) Validate() error {
	if len(t.Illicit) == 0 || len(t.Safe) == 0 {
		return fmt.Errorf("templates for both classes required")
	}
	for _, tmpl := range append(append([]string{}, t.Illicit...), t.Safe...) {
		for _, slot := range slots(tmpl) {
			if len(t.Words[slot]) == 0 {
				return fmt.Errorf("no words for slot {%s} in %q", slot, tmpl)
			}
		}
	}
	return nil
}

// Generate makes n illicit and n safe messages, shuffled. The result depends only on templates, n and seed.
func Generate(t Templates, n int, seed uint64) ([]textclass.Example, error) {
	if n <= 0 {
		return nil, fmt.Errorf("size must be positive, got %d", n)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	rnd := rand.New(rand.NewPCG(seed, seed)) //nolint:gosec // reproducible, not for security
	res := make([]textclass.Example, 0, 2*n)
	for _, cls := range []struct {
		templates []string
		label     textclass.Label
	}{{t.Illicit, textclass.LabelIllicit}, {t.Safe, textclass.LabelSafe}} {
		for range n {
			tmpl := cls.templates[rnd.IntN(len(cls.templates))]
			res = append(res, textclass.Example{Text: t.fill(tmpl, rnd), Label: cls.label})
		}
	}
	rnd.Shuffle(len(res), func(i, j int) { res[i], res[j] = res[j], res[i] })
	return res, nil
}

// fill replaces every slot of the template with a random word, the same word for repeated slots
func (t Templates) fill(tmpl string, rnd *rand.Rand) string {
	slotNames := slots(tmpl)
	if len(slotNames) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, 2*len(slotNames))
	for _, slot := range slotNames {
		words := t.Words[slot]
		pairs = append(pairs, "{"+slot+"}", words[rnd.IntN(len(words))])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// slots returns unique slot names of the template in order of appearance
func slots(tmpl string) []string {
	res := []string{}
	seen := map[string]bool{}
	for rest := tmpl; ; {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			return res
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return res
		}
		name := rest[start+1 : start+end]
		if name != "" && !seen[name] {
			seen[name] = true
			res = append(res, name)
		}
		rest = rest[start+end+1:]
	}
}
