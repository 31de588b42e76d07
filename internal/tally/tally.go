// Package tally aggregates quiz responses for the results display.
package tally

import (
	"fmt"
	"math"
	"sort"

	"retreat-quiz/internal/domain"
)

// Bucket is one labelled count in a tally. Buckets keep display order.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

const (
	defaultSliderMin = 0
	defaultSliderMax = 100
	sliderBuckets    = 10
	noAnswer         = "-"
)

// Count tallies the responses to one question.
//
// Text questions count identical answers. Slider questions count answers into
// ten ranges across the question's bounds. Questions with options count each
// chosen option, including every option of a multi-select answer. Anything else
// counts identical answers like text.
func Count(q domain.Question, responses []domain.Response) []Bucket {
	switch {
	case q.Type == domain.QuestionText:
		return countAnswers(responses)
	case q.Type == domain.QuestionSlider:
		return countSlider(q.Constraints, responses)
	case len(q.Options) > 0:
		return countOptions(q.Options, responses)
	default:
		return countAnswers(responses)
	}
}

func countAnswers(responses []domain.Response) []Bucket {
	var out []Bucket
	index := make(map[string]int)
	for _, r := range responses {
		answer := r.AnswerText
		if answer == "" {
			answer = noAnswer
		}
		i, ok := index[answer]
		if !ok {
			i = len(out)
			index[answer] = i
			out = append(out, Bucket{Label: answer})
		}
		out[i].Count++
	}
	return out
}

func countSlider(c *domain.Constraints, responses []domain.Response) []Bucket {
	lo, hi := defaultSliderMin, defaultSliderMax
	if c != nil && c.MinValue != nil && *c.MinValue != 0 {
		lo = *c.MinValue
	}
	if c != nil && c.MaxValue != nil && *c.MaxValue != 0 {
		hi = *c.MaxValue
	}
	step := int(math.Ceil(float64(hi-lo) / sliderBuckets))
	if step < 1 {
		step = 1
	}

	var out []Bucket
	index := make(map[int]int)
	for start := lo; start <= hi; start += step {
		index[start] = len(out)
		out = append(out, Bucket{Label: fmt.Sprintf("%d-%d", start, min(start+step-1, hi))})
	}
	for _, r := range responses {
		v := 0
		if r.AnswerNumber != nil {
			v = *r.AnswerNumber
		}
		start := int(math.Floor(float64(v-lo)/float64(step)))*step + lo
		if i, ok := index[start]; ok {
			out[i].Count++
		}
	}
	return out
}

func countOptions(options []string, responses []domain.Response) []Bucket {
	out := make([]Bucket, len(options))
	index := make(map[string]int, len(options))
	for i, o := range options {
		out[i].Label = o
		if _, dup := index[o]; !dup {
			index[o] = i
		}
	}
	bump := func(answer string) {
		if i, ok := index[answer]; ok {
			out[i].Count++
		}
	}
	for _, r := range responses {
		if len(r.AnswerOptions) > 0 {
			for _, a := range r.AnswerOptions {
				bump(a)
			}
			continue
		}
		if r.AnswerText != "" {
			bump(r.AnswerText)
		} else if r.AnswerEmoji != "" {
			bump(r.AnswerEmoji)
		}
	}
	return out
}

// Ranked returns a copy of buckets ordered by count, highest first.
func Ranked(buckets []Bucket) []Bucket {
	out := append([]Bucket(nil), buckets...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Percent is count as a rounded share of participants; 0 with no participants.
func Percent(count, participants int) int {
	if participants <= 0 {
		return 0
	}
	return int(math.Round(float64(count) / float64(participants) * 100))
}

// ChartKind maps a question's chart type to the kind of chart that renders it.
func ChartKind(chartType string) string {
	switch chartType {
	case "pie":
		return "pie"
	case "donut":
		return "doughnut"
	default:
		return "bar"
	}
}
