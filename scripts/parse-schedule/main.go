// parse-schedule parses a local schedule PDF and prints the extracted lessons
// as YAML. Useful when the site changes its document layout.
//
// Usage: go run ./scripts/parse-schedule -group ИВТб-2301-01-00 schedule.pdf
//
// Flags:
//
//	-group   Group label stamped on every lesson (required)
//	-raw     Also print the raw lesson text
package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/parser"
)

type lessonOut struct {
	Date    string              `yaml:"date"`
	Pair    *int                `yaml:"pair,omitempty"`
	Start   *string             `yaml:"start,omitempty"`
	End     *string             `yaml:"end,omitempty"`
	Fields  models.LessonFields `yaml:",inline"`
	RawInfo string              `yaml:"raw,omitempty"`
}

func main() {
	group := flag.String("group", "", "Group label stamped on every lesson")
	raw := flag.Bool("raw", false, "Also print the raw lesson text")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 || *group == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -group <label> [-raw] <file.pdf>\n", os.Args[0])
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", args[0], err)
		os.Exit(1)
	}

	lessons, err := parser.ParseScheduleDocument(data, *group)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse %s: %v\n", args[0], err)
		os.Exit(1)
	}

	out := make([]lessonOut, 0, len(lessons))
	for _, l := range lessons {
		o := lessonOut{
			Date:   l.Date.Format("2006-01-02"),
			Pair:   l.PairNumber,
			Start:  l.StartTime,
			End:    l.EndTime,
			Fields: l.Fields(),
		}
		if *raw {
			o.RawInfo = l.RawInfo
		}
		out = append(out, o)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode lessons: %v\n", err)
		os.Exit(1)
	}
	_ = enc.Close()

	fmt.Fprintf(os.Stderr, "%d lessons\n", len(lessons))
}
