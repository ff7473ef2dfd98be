package commands_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/l2r/internal/l2r/approvals"
	"github.com/bdobrica/l2r/internal/l2r/bridge"
	"github.com/bdobrica/l2r/internal/l2r/bus"
	"github.com/bdobrica/l2r/internal/l2r/chess"
	"github.com/bdobrica/l2r/internal/l2r/commands"
	"github.com/bdobrica/l2r/internal/l2r/images"
	"github.com/bdobrica/l2r/internal/l2r/kv"
	"github.com/bdobrica/l2r/internal/l2r/llm"
	"github.com/bdobrica/l2r/internal/l2r/prompts"
	"github.com/bdobrica/l2r/internal/l2r/resolver"
	"github.com/bdobrica/l2r/internal/l2r/session"
)

type fakeProvider struct {
	name string
	key  bool
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) HasCredential() bool { return f.key }
func (f *fakeProvider) Complete(context.Context, llm.Request) (string, error) {
	return "a quiet harbour at dawn", nil
}

type fakeImages struct{}

func (fakeImages) HasCredential() bool { return true }
func (fakeImages) GenerateImage(context.Context, llm.ImageRequest) (string, error) {
	return "https://img.example/x.png", nil
}

type harness struct {
	router  *commands.Router
	bridge  *bridge.Memory
	session *session.Session
	queue   *approvals.Queue
	prompts *prompts.Library
	chess   *resolver.Resolver
	store   *kv.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store := kv.NewMemory()
	b := bus.New()
	br := bridge.NewMemory()

	sel := llm.NewSelector(store, llm.KindOpenAI, map[llm.Kind]llm.Provider{
		llm.KindOpenAI: &fakeProvider{name: "openai", key: true},
		llm.KindGemini: &fakeProvider{name: "gemini"},
	})
	lib := prompts.New(store)
	if err := lib.EnsureDefaults(ctx, "Reply concisely."); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	queue := approvals.New(br, b)
	sess := session.New(session.Config{}, session.Deps{Store: store, LLM: sel, Sender: br, Approvals: queue, System: lib, Bus: b})
	if err := sess.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(sess.Close)
	res := resolver.New(resolver.Config{}, resolver.Deps{Store: store, LLM: sel, Sender: br, Bus: b})
	lab := images.New(images.Config{}, images.Deps{Store: store, LLM: sel, Images: fakeImages{}, Chat: sess, Bus: b})

	router := commands.NewRouter(commands.Prefix)
	commands.NewHandlers(commands.Deps{
		Session:   sess,
		Approvals: queue,
		Prompts:   lib,
		Provider:  sel,
		Chess:     res,
		Images:    lab,
		Chat:      br,
	}).Register(router)

	return &harness{router: router, bridge: br, session: sess, queue: queue, prompts: lib, chess: res, store: store}
}

func (h *harness) run(t *testing.T, text string) string {
	t.Helper()
	out, err := h.router.Route(context.Background(), text, "@op:example.org")
	if err != nil {
		t.Fatalf("%s: %v", text, err)
	}
	return out
}

func (h *harness) fail(t *testing.T, text string) error {
	t.Helper()
	_, err := h.router.Route(context.Background(), text, "@op:example.org")
	if err == nil {
		t.Fatalf("%s: expected an error", text)
	}
	return err
}

func TestHandlers_SessionSettings(t *testing.T) {
	h := newHarness(t)

	h.run(t, "!l2r link on")
	h.run(t, "!l2r approve on")
	if got := h.run(t, "!l2r maxturns 0"); got != "Max turns set to 1" {
		t.Errorf("maxturns reply = %q", got)
	}
	h.fail(t, "!l2r link maybe")
	h.fail(t, "!l2r maxturns many")

	st := h.session.Snapshot()
	if !st.Enabled || !st.Approve || st.MaxTurns != 1 {
		t.Fatalf("snapshot = %+v", st)
	}

	status := h.run(t, "!l2r status")
	for _, want := range []string{"Link: on", "Approve: on", "Turns: 0/1", "Provider: openai (key: yes)", "Active sets: Default", "Chess: not started"} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}
}

func TestHandlers_SystemAndProvider(t *testing.T) {
	h := newHarness(t)

	h.run(t, "!l2r system Be brief and kind.")
	if got := h.prompts.Global(); got != "Be brief and kind." {
		t.Errorf("global = %q", got)
	}
	if got := h.run(t, "!l2r provider Gemini"); !strings.Contains(got, "no API key") {
		t.Errorf("provider reply = %q", got)
	}
	h.fail(t, "!l2r provider claude")

	var stored string
	if ok, err := kv.Load(context.Background(), h.store, llm.KeyProvider, &stored); err != nil || !ok || stored != "gemini" {
		t.Fatalf("stored provider = %q, %v, %v", stored, ok, err)
	}
}

func TestHandlers_SendAndApprovals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.run(t, "!l2r send hello   there")
	if sent := h.bridge.Sent(); len(sent) != 1 || sent[0] != "hello   there" {
		t.Fatalf("sent = %q", sent)
	}

	p := h.queue.Add(ctx, "held reply")
	if got := h.run(t, "!l2r pending"); !strings.Contains(got, p.ID) || !strings.Contains(got, "held reply") {
		t.Errorf("pending = %q", got)
	}
	h.run(t, "!l2r accept "+p.ID)
	if sent := h.bridge.Sent(); len(sent) != 2 || sent[1] != "held reply" {
		t.Fatalf("sent = %q", sent)
	}
	q := h.queue.Add(ctx, "another")
	h.run(t, "!l2r discard "+q.ID)
	if h.queue.Len() != 0 {
		t.Fatal("queue should be empty")
	}
	h.fail(t, "!l2r accept nope")
}

func TestHandlers_Sets(t *testing.T) {
	h := newHarness(t)

	h.run(t, "!l2r sets create Pirate Voice")
	set, ok := h.prompts.FindSet("pirate voice")
	if !ok {
		t.Fatal("set not created")
	}
	h.run(t, "!l2r sets add "+set.ID+" Talk like a pirate.")
	h.run(t, "!l2r sets activate Pirate Voice")

	eff := h.prompts.Effective()
	if len(eff) != 2 || eff[1] != "Talk like a pirate." {
		t.Fatalf("effective = %q", eff)
	}
	if got := h.run(t, "!l2r sets show "+set.ID); !strings.Contains(got, "Talk like a pirate.") {
		t.Errorf("show = %q", got)
	}
	h.run(t, "!l2r sets rename "+set.ID+" Sea Dog")
	if got := h.run(t, "!l2r sets"); !strings.Contains(got, "Sea Dog") {
		t.Errorf("list = %q", got)
	}
	h.run(t, "!l2r sets deactivate Sea Dog")
	if len(h.prompts.Effective()) != 1 {
		t.Fatal("deactivated set still effective")
	}
	h.run(t, "!l2r sets delete "+set.ID)
	if _, ok := h.prompts.FindSet(set.ID); ok {
		t.Fatal("set not deleted")
	}
	h.fail(t, "!l2r sets show nosuchset")
}

func TestHandlers_Chess(t *testing.T) {
	h := newHarness(t)

	out := h.run(t, "!l2r chess start black")
	if !strings.Contains(out, "partner plays black") {
		t.Errorf("start reply = %q", out)
	}
	h.run(t, "!l2r chess click e2")
	if got := h.run(t, "!l2r chess click e4"); !strings.HasPrefix(got, "Played e4") {
		t.Errorf("click reply = %q", got)
	}
	h.fail(t, "!l2r chess move d4")

	h.run(t, "!l2r chess save after-e4")
	if got := h.run(t, "!l2r chess slots"); !strings.Contains(got, "after-e4") {
		t.Errorf("slots = %q", got)
	}
	h.run(t, "!l2r chess pause")
	if got := h.run(t, "!l2r chess status"); !strings.Contains(got, "paused") {
		t.Errorf("status = %q", got)
	}
	h.run(t, "!l2r chess resume")
	h.run(t, "!l2r chess rename after-e4 the open")
	h.fail(t, "!l2r chess load after-e4")
	h.run(t, "!l2r chess load the open")

	if got := h.run(t, "!l2r chess pgn"); !strings.Contains(got, "e4") {
		t.Errorf("pgn = %q", got)
	}
	if got := h.run(t, "!l2r chess board"); !strings.Contains(got, "black to move") {
		t.Errorf("board = %q", got)
	}
	if st := h.chess.Status(); st.Turn != chess.Black {
		t.Errorf("turn = %s", st.Turn)
	}
}

func TestHandlers_Images(t *testing.T) {
	h := newHarness(t)

	if got := h.run(t, "!l2r image a red kite over hills"); !strings.Contains(got, "https://img.example/x.png") {
		t.Errorf("image reply = %q", got)
	}
	h.fail(t, "!l2r image")

	h.session.OnIncomingText(context.Background(), "the harbour was calm today")
	if got := h.run(t, "!l2r image"); !strings.Contains(got, "a quiet harbour at dawn") {
		t.Errorf("chat image reply = %q", got)
	}
	if got := h.run(t, "!l2r images"); !strings.Contains(got, "Images (2)") {
		t.Errorf("images = %q", got)
	}
	if got := h.run(t, "!l2r image options --size 1024x1792 --style natural"); !strings.Contains(got, "Size: 1024x1792") {
		t.Errorf("options = %q", got)
	}
	h.fail(t, "!l2r image options --quality ultra")
	h.run(t, "!l2r image style pencil sketch")
	if got := h.run(t, "!l2r image style"); !strings.Contains(got, "pencil sketch") {
		t.Errorf("style = %q", got)
	}
}

func TestHandlers_Help(t *testing.T) {
	h := newHarness(t)
	got := h.run(t, "!l2r help")
	for _, want := range []string{"!l2r link on|off", "!l2r chess start", "!l2r image"} {
		if !strings.Contains(got, want) {
			t.Errorf("help missing %q", want)
		}
	}
}
