package vocab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Analyzer extracts study vocabulary from a Japanese transcript fragment.
// Implementations call a remote text model and must be safe for concurrent
// use; the fragment is the finalized transcript of one or more turns and
// contextTurns is a short rolling window of prior transcripts used to
// disambiguate homographs.
type Analyzer interface {
	Analyze(ctx context.Context, fragment string, contextTurns []string) ([]Candidate, error)
}

// AnalysisError wraps a per-fragment analysis failure. It never aborts the
// conversation: the fragment contributes zero vocabulary and the next turn
// proceeds normally.
type AnalysisError struct {
	Fragment string
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("vocabulary analysis failed for %q: %v", truncate(e.Fragment, 30), e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// functionWords are particles and auxiliary fragments that must never be
// classified as standalone vocabulary, whatever the model returns.
var functionWords = map[string]bool{
	"は": true, "が": true, "を": true, "に": true, "で": true,
	"と": true, "も": true, "へ": true, "の": true, "や": true,
	"か": true, "ね": true, "よ": true, "な": true, "わ": true,
	"から": true, "まで": true, "より": true, "だけ": true, "ほど": true,
	"です": true, "ます": true, "でした": true, "ました": true,
	"ません": true, "だ": true, "た": true, "て": true,
	"ている": true, "ています": true, "しています": true, "している": true,
	"せん": true, "れる": true, "られる": true,
}

// isFunctionWord reports whether a surface form is a particle or an
// auxiliary-only fragment.
func isFunctionWord(surface, pos string) bool {
	if functionWords[strings.TrimSpace(surface)] {
		return true
	}
	// honor the model's own part-of-speech tagging, in either language
	// it tends to answer in
	p := strings.ToLower(pos)
	return strings.Contains(p, "助詞") || strings.Contains(p, "助動詞") ||
		strings.Contains(p, "조사") || strings.Contains(p, "particle")
}

// wireCandidate is the loose shape both analysis backends ask the model to
// produce. Every field is a plain string so a sloppy response degrades
// instead of failing to unmarshal.
type wireCandidate struct {
	Word      string `json:"word"`
	Reading   string `json:"reading"`
	MeaningKR string `json:"meaning_kr"`
	MeaningEN string `json:"meaning_en"`
	POS       string `json:"pos"`
	Level     string `json:"level"`
	Example   string `json:"example"`
	Notes     string `json:"notes"`
}

type wireResponse struct {
	Vocabulary []wireCandidate `json:"vocabulary"`
}

// parseCandidates decodes a model response into candidates, dropping
// malformed items and function words rather than failing the whole
// fragment. Only a response with no parsable JSON at all is an error.
func parseCandidates(raw string) ([]Candidate, error) {
	cleaned := stripCodeFence(raw)

	var resp wireResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		// some models return a bare array instead of the wrapper object
		var list []wireCandidate
		if err2 := json.Unmarshal([]byte(cleaned), &list); err2 != nil {
			return nil, fmt.Errorf("malformed analysis response: %w", err)
		}
		resp.Vocabulary = list
	}

	out := make([]Candidate, 0, len(resp.Vocabulary))
	for _, w := range resp.Vocabulary {
		surface := strings.TrimSpace(w.Word)
		if surface == "" {
			continue
		}
		if isFunctionWord(surface, w.POS) {
			continue
		}
		out = append(out, Candidate{
			Surface:   surface,
			Reading:   strings.TrimSpace(w.Reading),
			MeaningKR: strings.TrimSpace(w.MeaningKR),
			MeaningEN: strings.TrimSpace(w.MeaningEN),
			POS:       strings.TrimSpace(w.POS),
			Level:     ParseLevel(w.Level),
			Example:   strings.TrimSpace(w.Example),
			Notes:     strings.TrimSpace(w.Notes),
		})
	}
	return out, nil
}

// stripCodeFence removes a surrounding markdown fence when the model wraps
// its JSON in one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// analysisPrompt builds the extraction instruction. The teaching voice is
// Korean because the study sheet targets Korean learners of Japanese.
func analysisPrompt(fragment string, contextTurns []string) string {
	var b strings.Builder
	b.WriteString("다음 일본어 텍스트에서 학습에 유용한 단어와 표현을 추출하고 분석해주세요.\n")
	b.WriteString("중요한 단어, 문법 포인트, 관용구를 중심으로 선택해주세요.\n\n")
	if len(contextTurns) > 0 {
		b.WriteString("이전 대화 (문맥 참고용, 분석 대상 아님):\n")
		for _, t := range contextTurns {
			b.WriteString(t + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("텍스트: " + fragment + "\n\n")
	b.WriteString(`다음 형식의 JSON으로 응답해주세요:
{
    "vocabulary": [
        {
            "word": "원형 또는 표면형",
            "reading": "히라가나 읽기",
            "meaning_kr": "한국어 뜻",
            "meaning_en": "영어 뜻 (옵션)",
            "pos": "품사 (명사/동사/형용사 등)",
            "level": "JLPT 레벨 (N5-N1)",
            "example": "예문 (있으면)",
            "notes": "문법 설명이나 사용법 팁 (옵션)"
        }
    ]
}

주의사항:
- 너무 기초적인 조사나 대명사는 제외
- 학습 가치가 있는 단어 중심으로 5-10개 선택
- 문맥에서의 실제 의미를 반영
- JLPT 레벨을 정확히 판단`)
	return b.String()
}

const analysisSystemPrompt = "You are a Japanese language teacher helping Korean students learn vocabulary."
