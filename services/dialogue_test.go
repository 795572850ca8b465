package services

import (
	"context"
	"testing"
	"time"

	"medivoice/models"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	st := NewStore(time.Minute, time.Minute)
	sess, err := st.Create("c1", "9999888877", "en", "browser")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess.SetState(models.StateActive)
	return sess
}

func TestSpecializationFromGreeting(t *testing.T) {
	d := NewDialogueEngine()
	sess := newTestSession(t)

	res := d.Interpret(context.Background(), sess, "I need a cardiologist")
	if !res.Advanced {
		t.Fatalf("expected stage advance")
	}
	if got := sess.Draft().Specialization; got != "Cardiology" {
		t.Fatalf("specialization = %q, want Cardiology", got)
	}
	if sess.Stage() != models.StageSelectingDoctor {
		t.Fatalf("stage = %s, want %s", sess.Stage(), models.StageSelectingDoctor)
	}
}

func TestSymptomKeywordsMapToSpecialization(t *testing.T) {
	cases := map[string]string{
		"my skin is itchy and red":  "Dermatology",
		"I keep getting migraines":  "Neurology",
		"my tooth hurts badly":      "Dentistry",
		"I have fever and cough":    "General Medicine",
		"chest pain since morning":  "Cardiology",
	}
	for utterance, want := range cases {
		d := NewDialogueEngine()
		sess := newTestSession(t)
		d.Interpret(context.Background(), sess, utterance)
		if got := sess.Draft().Specialization; got != want {
			t.Fatalf("utterance %q: specialization = %q, want %q", utterance, got, want)
		}
	}
}

func TestUnrecognizedSymptomsStillAdvance(t *testing.T) {
	d := NewDialogueEngine()
	sess := newTestSession(t)

	res := d.Interpret(context.Background(), sess, "I feel generally unwell")
	if !res.Advanced {
		t.Fatalf("expected advance to specialization selection")
	}
	if sess.Stage() != models.StageSelectingSpecialization {
		t.Fatalf("stage = %s, want %s", sess.Stage(), models.StageSelectingSpecialization)
	}
	if sess.Draft().Symptoms == "" {
		t.Fatalf("symptoms not recorded")
	}
}

func TestDoctorSelection(t *testing.T) {
	d := NewDialogueEngine()
	sess := newTestSession(t)
	d.Interpret(context.Background(), sess, "I need a cardiologist")

	res := d.Interpret(context.Background(), sess, "anyone is fine")
	if !res.Advanced {
		t.Fatalf("expected advance past doctor selection")
	}
	if got := sess.Draft().Doctor; got != "Any available" {
		t.Fatalf("doctor = %q, want Any available", got)
	}
	if sess.Stage() != models.StageSelectingSlot {
		t.Fatalf("stage = %s, want %s", sess.Stage(), models.StageSelectingSlot)
	}
}

func TestSlotParsing(t *testing.T) {
	d := NewDialogueEngine()
	sess := newTestSession(t)
	d.Interpret(context.Background(), sess, "I need a cardiologist")
	d.Interpret(context.Background(), sess, "any doctor")

	// Missing time: no advance.
	res := d.Interpret(context.Background(), sess, "tomorrow please")
	if res.Advanced {
		t.Fatalf("slot without time must not advance")
	}
	if sess.Stage() != models.StageSelectingSlot {
		t.Fatalf("stage moved on failed extraction")
	}

	res = d.Interpret(context.Background(), sess, "tomorrow at 10 am")
	if !res.Advanced {
		t.Fatalf("expected slot extraction to advance")
	}
	draft := sess.Draft()
	if draft.Date != "tomorrow" || draft.Time == "" {
		t.Fatalf("slot not recorded: %+v", draft)
	}
	// Caller id doubles as the contact number.
	if draft.PatientPhone != "9999888877" {
		t.Fatalf("caller id not used as contact number: %q", draft.PatientPhone)
	}
}

func TestFullDialogueReachesConfirmation(t *testing.T) {
	d := NewDialogueEngine()
	sess := newTestSession(t)
	ctx := context.Background()

	d.Interpret(ctx, sess, "I need a cardiologist")
	d.Interpret(ctx, sess, "doctor mehta")
	d.Interpret(ctx, sess, "friday at 4 pm")
	res := d.Interpret(ctx, sess, "my name is asha rao")
	if !res.Advanced || sess.Stage() != models.StageConfirming {
		t.Fatalf("expected confirming stage, got %s", sess.Stage())
	}

	res = d.Interpret(ctx, sess, "yes please")
	if !res.Affirmed {
		t.Fatalf("expected affirmation")
	}
}

func TestDenialAtConfirmationNotTakenAsConsent(t *testing.T) {
	d := NewDialogueEngine()
	ctx := context.Background()

	denials := []string{
		"no, don't book it",
		"no that is not right",
		"nope, wrong doctor",
	}
	for _, utterance := range denials {
		sess := newTestSession(t)
		d.Interpret(ctx, sess, "I need a cardiologist")
		d.Interpret(ctx, sess, "any doctor")
		d.Interpret(ctx, sess, "tomorrow at 10 am")
		d.Interpret(ctx, sess, "asha rao")
		if sess.Stage() != models.StageConfirming {
			t.Fatalf("setup: stage = %s, want %s", sess.Stage(), models.StageConfirming)
		}

		res := d.Interpret(ctx, sess, utterance)
		if res.Affirmed {
			t.Fatalf("denial %q read as consent", utterance)
		}
		if res.Reply == "" {
			t.Fatalf("denial %q got no reply", utterance)
		}
	}

	// Whole-token matching: "book" must not fire the "ok" affirmation.
	sess := newTestSession(t)
	d.Interpret(ctx, sess, "I need a cardiologist")
	d.Interpret(ctx, sess, "any doctor")
	d.Interpret(ctx, sess, "tomorrow at 10 am")
	d.Interpret(ctx, sess, "asha rao")
	res := d.Interpret(ctx, sess, "book")
	if res.Affirmed {
		t.Fatalf("unrelated word treated as affirmation")
	}
}

func TestRestartResetsDraft(t *testing.T) {
	d := NewDialogueEngine()
	sess := newTestSession(t)
	ctx := context.Background()

	d.Interpret(ctx, sess, "I need a cardiologist")
	res := d.Interpret(ctx, sess, "actually start over")
	if !res.Restarted {
		t.Fatalf("expected restart")
	}
	if sess.Draft().Specialization != "" {
		t.Fatalf("draft not reset after restart")
	}
	if sess.Stage() != models.StageCollectingSymptoms {
		t.Fatalf("stage = %s after restart", sess.Stage())
	}
}

func TestStageNeverMovesBackward(t *testing.T) {
	d := NewDialogueEngine()
	sess := newTestSession(t)
	ctx := context.Background()

	order := []string{
		"I need a cardiologist",
		"any doctor",
		"tomorrow at 10 am",
		"asha rao",
	}
	prev := sess.Stage()
	for _, utterance := range order {
		d.Interpret(ctx, sess, utterance)
		if sess.Stage().Rank() < prev.Rank() {
			t.Fatalf("stage went backward: %s -> %s", prev, sess.Stage())
		}
		prev = sess.Stage()
	}
}
