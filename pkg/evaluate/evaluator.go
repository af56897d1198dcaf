// Package evaluate grades whether an answer addresses its query and builds
// the refined query used when it does not.
package evaluate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm"
)

// MaxScore is the highest grade: one point per criterion.
const MaxScore = 2

// PassThreshold is the normalized score an answer needs to pass.
const PassThreshold = 1.0

const gradingPrompt = "Your task is to evaluate if the response is relevant to the query.\n" +
	"The evaluation should be performed in a step-by-step manner by answering the following questions:\n" +
	"1. Does the provided response match the subject matter of the user's query?\n" +
	"2. Does the provided response attempt to address the focus or perspective on the subject matter taken on by the user's query?\n" +
	"Each question above is worth 1 point. Start with a line 'Detailed Feedback:' and give detailed feedback on the response " +
	"according to the criteria questions above. After your feedback provide a final result by strictly following this format: " +
	"'[RESULT] followed by the integer number representing the total score assigned to the response'\n\n" +
	"Important: if the response is seeking clarification or provides detail about an error then assign [RESULT] to be " +
	"the highest score possible (e.g. give one point for each of the above criteria questions).\n" +
	"Query: \n %s\n" +
	"Response: \n %s\n" +
	"Feedback:"

const refinePrompt = "The original query is as follows: %s\n" +
	"We have provided an existing answer: %s\n" +
	"We have the opportunity to refine the existing answer (only if needed) with some more context below.\n" +
	"------------\n%s\n------------\n" +
	"Given the new context, refine the original answer to better answer the query. " +
	"If the context isn't useful, return the original answer.\n" +
	"Refined Answer: "

var (
	resultRe   = regexp.MustCompile(`\[RESULT\]\s*(-?\d+(?:\.\d+)?)`)
	feedbackRe = regexp.MustCompile(`(?s)Detailed Feedback:\s*\n?(.*?)\n\s*\[RESULT\]`)
)

// Result is a grade. Feedback is non-empty whenever Passing is false.
type Result struct {
	Passing  bool
	Score    float64
	Feedback string
}

type Evaluator struct {
	llm    llm.LLMProvider
	logger logger.ILogger
}

func NewEvaluator(provider llm.LLMProvider, log logger.ILogger) *Evaluator {
	return &Evaluator{llm: provider, logger: log}
}

// Evaluate grades answer against query. A reply without a parseable score
// passes, so grading never blocks a turn.
func (e *Evaluator) Evaluate(ctx context.Context, query, answer string) (Result, error) {
	prompt := fmt.Sprintf(gradingPrompt, query, answer)
	reply, err := e.llm.Generate(ctx, prompt, llm.WithTemperature(0))
	if err != nil {
		return Result{}, fmt.Errorf("grade answer: %w", err)
	}

	res := Parse(reply)
	e.logger.Debug("EVAL", "Graded answer", map[string]interface{}{
		"score":   res.Score,
		"passing": res.Passing,
	})
	return res, nil
}

// Parse reads a grader reply.
func Parse(reply string) Result {
	m := resultRe.FindStringSubmatch(reply)
	if m == nil {
		return Result{Passing: true, Score: 1}
	}
	raw, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Result{Passing: true, Score: 1}
	}
	score := raw / MaxScore
	if score >= PassThreshold {
		return Result{Passing: true, Score: score}
	}
	return Result{Passing: false, Score: score, Feedback: feedback(reply)}
}

func feedback(reply string) string {
	if m := feedbackRe.FindStringSubmatch(reply); m != nil {
		if f := strings.TrimSpace(m[1]); f != "" {
			return f
		}
	}
	text := reply
	if i := strings.Index(text, "[RESULT]"); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "Detailed Feedback:"))
	if text == "" {
		return "The answer does not address the query."
	}
	return text
}

// Refine builds the query for a retry from the rejected answer and its
// feedback.
func Refine(query, answer, feedback string) string {
	return fmt.Sprintf(refinePrompt, query, answer, feedback)
}
