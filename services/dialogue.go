package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"medivoice/models"
)

// specializationKeywords maps caller vocabulary to clinic specializations.
var specializationKeywords = map[string]string{
	"cardiologist": "Cardiology", "cardiology": "Cardiology", "heart": "Cardiology",
	"chest pain": "Cardiology",
	"dermatologist": "Dermatology", "skin": "Dermatology", "rash": "Dermatology",
	"pediatrician": "Pediatrics", "child": "Pediatrics", "baby": "Pediatrics",
	"orthopedic": "Orthopedics", "bone": "Orthopedics", "joint": "Orthopedics",
	"fracture": "Orthopedics",
	"neurologist": "Neurology", "headache": "Neurology", "migraine": "Neurology",
	"gynecologist": "Gynecology", "pregnancy": "Gynecology",
	"ent": "ENT", "ear": "ENT", "throat": "ENT",
	"eye": "Ophthalmology", "ophthalmologist": "Ophthalmology", "vision": "Ophthalmology",
	"dentist": "Dentistry", "tooth": "Dentistry", "teeth": "Dentistry",
	"general physician": "General Medicine", "fever": "General Medicine",
	"cold": "General Medicine", "cough": "General Medicine",
}

var (
	affirmWords  = []string{"yes", "yeah", "confirm", "correct", "sure", "okay", "ok", "haan", "right"}
	denyWords    = []string{"no", "not", "nope", "wrong", "nahi"}
	restartWords = []string{"start over", "restart", "start again", "cancel everything"}

	phonePattern = regexp.MustCompile(`\b\d{10}\b`)
	timePattern  = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)\b`)
	dayWords     = []string{"today", "tomorrow", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
)

// TurnResult is the outcome of interpreting one caller utterance.
type TurnResult struct {
	// Reply is the prompt spoken back to the caller.
	Reply string
	// Advanced is true when the utterance moved the dialogue forward.
	Advanced bool
	// Affirmed is true when the caller confirmed the booking.
	Affirmed bool
	// Restarted is true when the caller asked to start over.
	Restarted bool
}

// DialogueEngine interprets caller utterances per dialogue stage. Extraction
// is keyword-driven; when an OpenAI client is configured it is consulted
// first and the keyword path is the fallback.
type DialogueEngine struct {
	llm      *openai.Client
	llmModel string
}

// NewDialogueEngine creates the keyword-driven engine.
func NewDialogueEngine() *DialogueEngine { return &DialogueEngine{} }

// WithLLM enables LLM-assisted extraction.
func (d *DialogueEngine) WithLLM(client *openai.Client, model string) *DialogueEngine {
	d.llm = client
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	d.llmModel = model
	return d
}

// Greeting is the prompt played when a call is answered.
func (d *DialogueEngine) Greeting() string {
	return "Hello, welcome to the clinic appointment line. Please tell me your symptoms, or the kind of doctor you would like to see."
}

// Interpret processes one caller utterance for the session, mutating the
// booking draft and advancing the stage when extraction succeeds.
func (d *DialogueEngine) Interpret(ctx context.Context, sess *Session, utterance string) TurnResult {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return TurnResult{Reply: d.Reprompt(sess.Stage())}
	}
	for _, w := range restartWords {
		if strings.Contains(text, w) {
			sess.Restart()
			return TurnResult{
				Reply:     "Alright, let's start over. " + d.Reprompt(models.StageCollectingSymptoms),
				Restarted: true,
				Advanced:  true,
			}
		}
	}

	stage := sess.Stage()
	switch stage {
	case models.StageGreeting, models.StageCollectingSymptoms, models.StageSelectingSpecialization:
		return d.interpretSymptoms(ctx, sess, text)
	case models.StageSelectingDoctor:
		return d.interpretDoctor(sess, utterance)
	case models.StageSelectingSlot:
		return d.interpretSlot(sess, text)
	case models.StageCollectingDetails:
		return d.interpretDetails(sess, utterance)
	case models.StageConfirming:
		return d.interpretConfirmation(sess, text)
	default:
		return TurnResult{Reply: "This booking is already complete. Goodbye."}
	}
}

func (d *DialogueEngine) interpretSymptoms(ctx context.Context, sess *Session, text string) TurnResult {
	spec := d.extractSpecialization(ctx, text)
	if spec == "" {
		// Record what the caller said as symptoms even when no
		// specialization is recognizable yet.
		if sess.Stage() == models.StageGreeting || sess.Stage() == models.StageCollectingSymptoms {
			if err := sess.SetDraftField("symptoms", text); err == nil {
				sess.AdvanceStage(models.StageSelectingSpecialization)
				return TurnResult{
					Reply:    "I see. Which specialist would you like to see, for example a cardiologist or a dermatologist?",
					Advanced: true,
				}
			}
		}
		return TurnResult{Reply: d.Reprompt(sess.Stage())}
	}
	if sess.Draft().Symptoms == "" {
		_ = sess.SetDraftField("symptoms", text)
	}
	if err := sess.SetDraftField("specialization", spec); err != nil {
		return TurnResult{Reply: d.Reprompt(sess.Stage())}
	}
	sess.AdvanceStage(models.StageSelectingDoctor)
	return TurnResult{
		Reply:    fmt.Sprintf("I can book you with %s. Do you have a preferred doctor, or should I pick any available one?", spec),
		Advanced: true,
	}
}

func (d *DialogueEngine) interpretDoctor(sess *Session, utterance string) TurnResult {
	text := strings.ToLower(utterance)
	doctor := ""
	switch {
	case strings.Contains(text, "any") || strings.Contains(text, "anyone") || strings.Contains(text, "first available"):
		doctor = "Any available"
	default:
		name := strings.TrimSpace(utterance)
		name = strings.TrimPrefix(strings.ToLower(name), "doctor ")
		name = strings.TrimPrefix(name, "dr ")
		name = strings.TrimPrefix(name, "dr. ")
		if len(name) > 1 {
			doctor = "Dr. " + strings.Title(name)
		}
	}
	if doctor == "" {
		return TurnResult{Reply: d.Reprompt(models.StageSelectingDoctor)}
	}
	if err := sess.SetDraftField("doctor", doctor); err != nil {
		return TurnResult{Reply: d.Reprompt(models.StageSelectingDoctor)}
	}
	sess.AdvanceStage(models.StageSelectingSlot)
	return TurnResult{
		Reply:    "Noted. What day and time would suit you? For example, tomorrow at 10 am.",
		Advanced: true,
	}
}

func (d *DialogueEngine) interpretSlot(sess *Session, text string) TurnResult {
	day := ""
	for _, w := range dayWords {
		if strings.Contains(text, w) {
			day = w
			break
		}
	}
	timeMatch := timePattern.FindString(text)
	if day == "" || timeMatch == "" {
		return TurnResult{Reply: d.Reprompt(models.StageSelectingSlot)}
	}
	if err := sess.SetDraftField("date", day); err != nil {
		return TurnResult{Reply: d.Reprompt(models.StageSelectingSlot)}
	}
	if err := sess.SetDraftField("time", timeMatch); err != nil {
		return TurnResult{Reply: d.Reprompt(models.StageSelectingSlot)}
	}
	sess.AdvanceStage(models.StageCollectingDetails)
	if sess.CallerID != "" {
		// The caller id serves as the contact number unless overridden.
		_ = sess.SetDraftField("patient_phone", sess.CallerID)
		return TurnResult{Reply: "Almost done. What is the patient's full name?", Advanced: true}
	}
	return TurnResult{Reply: "Almost done. Please tell me the patient's name and a ten digit contact number.", Advanced: true}
}

func (d *DialogueEngine) interpretDetails(sess *Session, utterance string) TurnResult {
	text := strings.TrimSpace(utterance)
	if phone := phonePattern.FindString(text); phone != "" && sess.Draft().PatientPhone == "" {
		_ = sess.SetDraftField("patient_phone", phone)
		text = strings.TrimSpace(strings.Replace(text, phone, "", 1))
	}
	if text != "" && sess.Draft().PatientName == "" {
		name := strings.TrimPrefix(strings.ToLower(text), "my name is ")
		name = strings.TrimPrefix(name, "this is ")
		_ = sess.SetDraftField("patient_name", strings.Title(strings.TrimSpace(name)))
	}

	draft := sess.Draft()
	if draft.PatientName == "" {
		return TurnResult{Reply: "I still need the patient's full name."}
	}
	if draft.PatientPhone == "" {
		return TurnResult{Reply: "I still need a ten digit contact number."}
	}
	sess.AdvanceStage(models.StageConfirming)
	return TurnResult{
		Reply: fmt.Sprintf(
			"To confirm: %s with %s, %s at %s, for %s. Shall I book it?",
			draft.Specialization, draft.Doctor, draft.Date, draft.Time, draft.PatientName),
		Advanced: true,
	}
}

func (d *DialogueEngine) interpretConfirmation(sess *Session, text string) TurnResult {
	// Denials win over affirmations: "no, don't book it" must never read as
	// consent, and whole-token matching keeps "ok" from firing inside "book".
	if containsWord(text, denyWords) {
		return TurnResult{Reply: "Okay, say start over to change the details, or yes to book the appointment as read."}
	}
	if containsWord(text, affirmWords) {
		return TurnResult{Affirmed: true, Advanced: true}
	}
	return TurnResult{Reply: d.Reprompt(models.StageConfirming)}
}

// containsWord reports whether any of words appears in text as a whole token.
func containsWord(text string, words []string) bool {
	tokens := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

// Reprompt returns the retry prompt for a stage.
func (d *DialogueEngine) Reprompt(stage models.Stage) string {
	switch stage {
	case models.StageGreeting, models.StageCollectingSymptoms:
		return "Sorry, I did not catch that. Please describe your symptoms, or name the specialist you need."
	case models.StageSelectingSpecialization:
		return "Please name the specialist you need, for example a cardiologist."
	case models.StageSelectingDoctor:
		return "Please give me a doctor's name, or say any available."
	case models.StageSelectingSlot:
		return "Please tell me a day and time, for example tomorrow at 10 am."
	case models.StageCollectingDetails:
		return "Please tell me the patient's name and contact number."
	case models.StageConfirming:
		return "Please say yes to confirm the appointment, or start over to change it."
	default:
		return "Sorry, I did not catch that."
	}
}

// FallbackMessage is spoken before aborting after repeated failed turns.
func (d *DialogueEngine) FallbackMessage() string {
	return "I am having trouble understanding. Please call again later or book online. Goodbye."
}

func (d *DialogueEngine) extractSpecialization(ctx context.Context, text string) string {
	if spec := matchSpecialization(text); spec != "" {
		return spec
	}
	if d.llm == nil {
		return ""
	}
	spec, err := d.llmSpecialization(ctx, text)
	if err != nil {
		log.Printf("LLM extraction failed, keyword fallback only: %v", err)
		return ""
	}
	return spec
}

// matchSpecialization matches keywords against whole words, in sorted key
// order so ambiguous phrases resolve deterministically. Substring matching
// would misfire ("heart" contains "ear").
func matchSpecialization(text string) string {
	tokens := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	keys := make([]string, 0, len(specializationKeywords))
	for k := range specializationKeywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, kw := range keys {
		if strings.Contains(kw, " ") {
			if strings.Contains(text, kw) {
				return specializationKeywords[kw]
			}
			continue
		}
		for _, tok := range tokens {
			if tok == kw || tok == kw+"s" || tok == kw+"es" {
				return specializationKeywords[kw]
			}
		}
	}
	return ""
}

// llmSpecialization asks the LLM to map free-form symptom descriptions to a
// clinic specialization.
func (d *DialogueEngine) llmSpecialization(ctx context.Context, text string) (string, error) {
	resp, err := d.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     d.llmModel,
		MaxTokens: 50,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: `You map a patient's spoken symptom description to one clinic specialization: Cardiology, Dermatology, Pediatrics, Orthopedics, Neurology, Gynecology, ENT, Ophthalmology, Dentistry or General Medicine. Reply with JSON {"specialization": "..."} and an empty string when unsure.`,
			},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	var out struct {
		Specialization string `json:"specialization"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return "", fmt.Errorf("parsing completion: %w", err)
	}
	return out.Specialization, nil
}
