package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/piculi-bot/piculi-engine/pkg/models"
)

var (
	subgroupPattern = regexp.MustCompile(`(?i)` + wordStart + `(\d{1,2})\s*(?:подгруппа|п/г)`)

	// Surname, optionally hyphenated, followed by two initials.
	teacherPattern = regexp.MustCompile(wordStart + `([А-ЯЁ][а-яё]+(?:-[А-ЯЁ][а-яё]+)?\s+[А-ЯЁ]\.\s?[А-ЯЁ]\.?)`)

	// Building is a number or one of the named blocks. Room is a number with an
	// optional letter, or a bare word ("ФОК-Зал").
	locationPattern = regexp.MustCompile(wordStart + `((\d{1,2}|ФОК|Гл\.|Спорт\.зал)\s*-\s*(\d{3,4}[а-яА-Я]?|[А-Яа-я]+))` + wordEnd)

	abbreviationPattern = regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])(?:лаб\.|пр\.|лек\.)`)
)

// classTypes is ordered: the first label found in the text wins.
var classTypes = []string{
	"Лекция",
	"Практическое занятие",
	"Лабораторная работа",
	"Зачет",
	"Экзамен",
	"Консультация",
}

var classTypePatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(classTypes))
	for i, ct := range classTypes {
		out[i] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(ct))
	}
	return out
}()

// classTypeAbbreviations are checked in order when no full label is present.
var classTypeAbbreviations = []struct {
	abbr      string
	classType string
}{
	{"лаб.", "Лабораторная работа"},
	{"пр.", "Практическое занятие"},
	{"лек.", "Лекция"},
}

// ExtractLessonFields decomposes a free-text lesson description into subject,
// class type, teacher, building, room and subgroup.
//
// Stages run in a fixed order and each removes what it matched before the next
// one looks at the text, so that e.g. a room number is never read as part of
// the subject. Missing patterns leave the field nil.
func ExtractLessonFields(raw, group string) models.LessonFields {
	var f models.LessonFields
	if raw == "" {
		return f
	}

	text := stripGroup(CleanString(raw), group)
	f.Subgroup, text = extractSubgroup(text)
	f.Teacher, text = extractTeachers(text)
	f.Building, f.Room, text = extractLocation(text)
	f.ClassType, text = extractClassType(text)
	f.Subject = extractSubject(text)
	return f
}

// stripGroup removes the owning group's label and any separators after it.
func stripGroup(text, group string) string {
	group = CleanString(group)
	if group == "" {
		return text
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(group) + `[\s,]*`)
	return re.ReplaceAllString(text, " ")
}

func extractSubgroup(text string) (*string, string) {
	m := subgroupPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return nil, text
	}
	number := text[m[2]:m[3]]
	span := text[m[2]:m[1]]
	return &number, strings.ReplaceAll(text, span, " ")
}

func extractTeachers(text string) (*string, string) {
	var valid []string
	for _, m := range teacherPattern.FindAllStringSubmatch(text, -1) {
		candidate := m[1]
		if strings.Contains(candidate, "Лекция") || strings.Contains(candidate, "Лаб") {
			continue
		}
		valid = append(valid, candidate)
	}
	if len(valid) == 0 {
		return nil, text
	}
	for _, t := range valid {
		text = strings.ReplaceAll(text, t, " ")
	}
	joined := strings.Join(valid, ", ")
	return &joined, text
}

func extractLocation(text string) (building, room *string, rest string) {
	m := locationPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, text
	}
	return ptr(m[2]), ptr(m[3]), strings.ReplaceAll(text, m[1], " ")
}

func extractClassType(text string) (*string, string) {
	lower := strings.ToLower(text)
	for i, ct := range classTypes {
		if strings.Contains(lower, strings.ToLower(ct)) {
			return ptr(ct), classTypePatterns[i].ReplaceAllString(text, " ")
		}
	}

	var classType *string
	for _, a := range classTypeAbbreviations {
		if strings.Contains(lower, a.abbr) {
			classType = ptr(a.classType)
			break
		}
	}
	return classType, abbreviationPattern.ReplaceAllString(text, "${1} ")
}

// extractSubject returns what is left after every other stage. Fragments
// shorter than two characters are noise, not subjects.
func extractSubject(text string) *string {
	subject := strings.TrimSpace(strings.Trim(text, " .,;"))
	subject = strings.Join(strings.Fields(subject), " ")
	if utf8.RuneCountInString(subject) < 2 {
		return nil
	}
	return &subject
}
