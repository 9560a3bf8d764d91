// Package scoring grades a session's answers against a packet's questions.
// It is pure: no I/O, no clock, no randomness.
package scoring

import (
	"math"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// Result is the graded outcome of one session.
type Result struct {
	Achieved int     `json:"achieved"`
	Maximum  int     `json:"maximum"`
	Score    float64 `json:"score"`
	Correct  int     `json:"correct"`
	Answered int     `json:"answered"`
}

// Item is the grading of a single question.
type Item struct {
	Question model.Question
	// Answer is nil when the question has no usable answer record.
	Answer    *model.AnswerRecord
	Ambiguous bool
	Correct   bool
	Earned    int
}

// Evaluate grades each question in order. A question earns its points only
// when exactly one answer record exists for it and the selected option equals
// the stored key byte for byte. Answers for questions outside the set are ignored.
func Evaluate(answers []model.AnswerRecord, questions []model.Question) []Item {
	byQuestion := make(map[uuid.UUID][]int, len(answers))
	for i := range answers {
		qid := answers[i].QuestionID
		byQuestion[qid] = append(byQuestion[qid], i)
	}

	items := make([]Item, 0, len(questions))
	for _, q := range questions {
		item := Item{Question: q}
		switch idx := byQuestion[q.ID]; len(idx) {
		case 0:
		case 1:
			a := answers[idx[0]]
			item.Answer = &a
			if a.SelectedOption == q.AnswerKey {
				item.Correct = true
				item.Earned = q.Points
			}
		default:
			item.Ambiguous = true
		}
		items = append(items, item)
	}
	return items
}

// Summarize folds graded items into a Result.
func Summarize(items []Item) Result {
	var r Result
	for _, it := range items {
		r.Maximum += it.Question.Points
		r.Achieved += it.Earned
		if it.Answer != nil || it.Ambiguous {
			r.Answered++
		}
		if it.Correct {
			r.Correct++
		}
	}
	r.Score = Percentage(r.Achieved, r.Maximum)
	return r
}

// Score grades answers against questions.
func Score(answers []model.AnswerRecord, questions []model.Question) Result {
	return Summarize(Evaluate(answers, questions))
}

// Percentage returns achieved/maximum*100 rounded to two decimals, or 0 when
// maximum is not positive.
func Percentage(achieved, maximum int) float64 {
	if maximum <= 0 {
		return 0
	}
	return Round2(float64(achieved) / float64(maximum) * 100)
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
