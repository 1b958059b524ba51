package model

// Question is a multiple-choice question from the shared pool.
type Question struct {
	ID          string `json:"id" bson:"_id,omitempty"`
	Text        string `json:"text" bson:"text"`
	Directive   string `json:"directive,omitempty" bson:"directive,omitempty"`
	A           string `json:"a" bson:"a"`
	B           string `json:"b" bson:"b"`
	C           string `json:"c" bson:"c"`
	D           string `json:"d" bson:"d"`
	Correct     string `json:"correct" bson:"correct"` // option key: "A".."D"
	Explanation string `json:"explanation,omitempty" bson:"explanation,omitempty"`
	Category    string `json:"category,omitempty" bson:"category,omitempty"`
	Difficulty  string `json:"difficulty,omitempty" bson:"difficulty,omitempty"`
	Score       int    `json:"score" bson:"score"` // points awarded for a correct answer
}

// QuestionPayload is the client-facing view of a question. It never carries
// the correct key or the explanation.
type QuestionPayload struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Directive string `json:"directive,omitempty"`
	A         string `json:"a"`
	B         string `json:"b"`
	C         string `json:"c"`
	D         string `json:"d"`
	Score     int    `json:"score"`
}

func (q *Question) Payload() QuestionPayload {
	return QuestionPayload{
		ID:        q.ID,
		Text:      q.Text,
		Directive: q.Directive,
		A:         q.A,
		B:         q.B,
		C:         q.C,
		D:         q.D,
		Score:     q.Score,
	}
}
