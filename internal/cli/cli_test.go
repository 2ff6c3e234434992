package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args []string) (stdout []byte, stderr []byte, err error) {
	t.Helper()

	cmd := NewRootCmd()

	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)

	e := cmd.Execute()
	return outBuf.Bytes(), errBuf.Bytes(), e
}

type harness struct {
	t   *testing.T
	dir string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	t.Setenv("SURVEYOR_CONFIG_DIR", t.TempDir())
	h := harness{t: t, dir: t.TempDir()}
	h.mustRun("init")
	return h
}

func (h harness) mustRun(args ...string) map[string]any {
	h.t.Helper()
	args = append([]string{"--dir", h.dir}, args...)
	stdout, stderr, err := runCLI(h.t, args)
	if err != nil {
		h.t.Fatalf("command failed: surveyor %v\nerr: %v\nstderr:\n%s\nstdout:\n%s", args, err, stderr, stdout)
	}
	var env map[string]any
	if err := json.Unmarshal(stdout, &env); err != nil {
		h.t.Fatalf("unmarshal stdout as json envelope: %v\nstdout:\n%s\nargs: %v", err, stdout, args)
	}
	if _, ok := env["data"]; !ok {
		h.t.Fatalf("expected JSON envelope to contain data key; got: %v", env)
	}
	return env
}

func (h harness) mustFail(args ...string) string {
	h.t.Helper()
	args = append([]string{"--dir", h.dir}, args...)
	_, stderr, err := runCLI(h.t, args)
	if err == nil {
		h.t.Fatalf("expected surveyor %v to fail", args)
	}
	if !IsReported(err) {
		h.t.Fatalf("expected error to be printed by the command; got %v", err)
	}
	return string(stderr)
}

func idOf(t *testing.T, env map[string]any, path ...string) string {
	t.Helper()
	var cur any = env["data"]
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("expected object at %q in %#v", p, cur)
		}
		cur = m[p]
	}
	m, ok := cur.(map[string]any)
	if !ok {
		t.Fatalf("expected object with id; got %#v", cur)
	}
	f, ok := m["id"].(float64)
	if !ok || f <= 0 {
		t.Fatalf("expected positive id; got %#v", m["id"])
	}
	return fmt.Sprintf("%d", int64(f))
}

func optionIDs(t *testing.T, q map[string]any) []string {
	t.Helper()
	opts, _ := q["options"].([]any)
	out := []string{}
	for _, o := range opts {
		out = append(out, fmt.Sprintf("%d", int64(o.(map[string]any)["id"].(float64))))
	}
	return out
}

func questionsOf(t *testing.T, show map[string]any) []map[string]any {
	t.Helper()
	sv := show["data"].(map[string]any)
	out := []map[string]any{}
	for _, g := range sv["groups"].([]any) {
		for _, q := range g.(map[string]any)["questions"].([]any) {
			out = append(out, q.(map[string]any))
		}
	}
	return out
}

func shownCount(t *testing.T, env map[string]any) int {
	t.Helper()
	xs, ok := env["data"].([]any)
	if !ok {
		t.Fatalf("expected list; got %#v", env["data"])
	}
	return len(xs)
}

func TestCLIEditingFlow(t *testing.T) {
	h := newHarness(t)

	sid := idOf(t, h.mustRun("surveys", "create", "--title", "Checkout"))
	gid := idOf(t, h.mustRun("groups", "add", sid, "--title", "Main"))

	source := h.mustRun("questions", "add", gid, "--type", "yes_no", "--text", "Would you recommend us?")
	q1 := idOf(t, source)
	opts := optionIDs(t, source["data"].(map[string]any))
	if len(opts) != 2 {
		t.Fatalf("expected yes/no options; got %v", opts)
	}
	follow := h.mustRun("questions", "add", gid, "--type", "long_text", "--text", "Why not?", "--help-text", "Be specific.")
	q2 := idOf(t, follow)
	if got := follow["data"].(map[string]any)["helpText"]; got != "Be specific." {
		t.Fatalf("expected help text on the new question; got %#v", got)
	}

	h.mustRun("conditions", "add", q2, "--source", q1, "--option", opts[1])

	if n := shownCount(t, h.mustRun("visible", sid)); n != 1 {
		t.Fatalf("expected follow-up hidden without answers; shown=%d", n)
	}
	if n := shownCount(t, h.mustRun("visible", sid, "--answer", q1+"="+opts[1])); n != 2 {
		t.Fatalf("expected follow-up after answering No; shown=%d", n)
	}
	if n := shownCount(t, h.mustRun("visible", sid, "--answer", q1+"="+opts[0])); n != 1 {
		t.Fatalf("expected follow-up hidden after answering Yes; shown=%d", n)
	}
	if n := shownCount(t, h.mustRun("visible", sid, "--design")); n != 2 {
		t.Fatalf("design mode lists every question; shown=%d", n)
	}

	h.mustRun("settings", "set", q2, "--required", "hard")
	settings := h.mustRun("settings", "show", q2)["data"].(map[string]any)
	if settings["required"] != "hard" {
		t.Fatalf("expected required=hard; got %#v", settings)
	}

	edited := h.mustRun("questions", "edit", q1, "--text", "Would you buy again?", "--code", "REC", "--help-text", "Think of your last order.")
	q := edited["data"].(map[string]any)["question"].(map[string]any)
	if q["text"] != "Would you buy again?" || q["code"] != "REC" || q["helpText"] != "Think of your last order." {
		t.Fatalf("edit not applied: %#v", q)
	}

	// Options: add, rename, reorder, delete.
	o := idOf(t, h.mustRun("options", "add", q1, "--text", "Maybe"))
	h.mustRun("options", "edit", o, "--text", "Not sure")
	moved := h.mustRun("options", "move", o, "--position", "1")
	if first := optionIDs(t, moved["data"].(map[string]any))[0]; first != o {
		t.Fatalf("expected option %s first; got %s", o, first)
	}
	h.mustRun("options", "delete", o)

	// Changing the type replaces the options; the condition now dangles.
	retyped := h.mustRun("questions", "type", q1, "scale")
	if got := optionIDs(t, retyped["data"].(map[string]any)["question"].(map[string]any)); len(got) != 5 {
		t.Fatalf("expected 5 scale options; got %v", got)
	}
	doctor := h.mustRun("surveys", "doctor", sid)
	if n := len(doctor["data"].([]any)); n != 1 {
		t.Fatalf("expected one dangling-condition warning; got %#v", doctor["data"])
	}
	if n := shownCount(t, h.mustRun("visible", sid)); n != 1 {
		t.Fatalf("dangling conditions evaluate to false; shown=%d", n)
	}
	h.mustRun("conditions", "remove", q2, "0")
	if n := len(h.mustRun("surveys", "doctor", sid, "--fail")["data"].([]any)); n != 0 {
		t.Fatalf("expected a clean survey after removing the condition; got %d issues", n)
	}

	// Reorder questions and groups.
	h.mustRun("questions", "move", q2, "--position", "1")
	show := h.mustRun("surveys", "show", sid)
	qs := questionsOf(t, show)
	if len(qs) != 2 || fmt.Sprintf("%d", int64(qs[0]["id"].(float64))) != q2 {
		t.Fatalf("expected %s first after move; got %#v", q2, qs)
	}
	g2 := idOf(t, h.mustRun("groups", "add", sid, "--title", "Extra"))
	h.mustRun("questions", "move", q1, "--group", g2, "--position", "1")
	h.mustRun("groups", "move", g2, "--position", "1")
	h.mustRun("groups", "rename", g2, "--title", "First")
	show = h.mustRun("surveys", "show", sid)
	groups := show["data"].(map[string]any)["groups"].([]any)
	if first := groups[0].(map[string]any); first["title"] != "First" || len(first["questions"].([]any)) != 1 {
		t.Fatalf("expected renamed group first holding one question; got %#v", first)
	}

	h.mustRun("questions", "delete", q1)
	h.mustRun("groups", "delete", g2)
	if n := len(questionsOf(t, h.mustRun("surveys", "show", sid))); n != 1 {
		t.Fatalf("expected one question left; got %d", n)
	}

	h.mustRun("surveys", "rename", sid, "--title", "Checkout v2")
	list := h.mustRun("surveys", "list")
	if first := list["data"].([]any)[0].(map[string]any); first["title"] != "Checkout v2" {
		t.Fatalf("expected renamed survey; got %#v", first)
	}

	evs := h.mustRun("events", "list", "--survey", sid, "--limit", "0")
	if n := len(evs["data"].([]any)); n < 10 {
		t.Fatalf("expected an event per committed write; got %d", n)
	}
}

func TestCLIErrors(t *testing.T) {
	h := newHarness(t)
	sid := idOf(t, h.mustRun("surveys", "create", "--title", "Errors"))
	gid := idOf(t, h.mustRun("groups", "add", sid))

	if msg := h.mustFail("groups", "rename", "99999", "--title", "x"); !strings.Contains(msg, "not found") {
		t.Fatalf("expected not found; stderr=%q", msg)
	}
	if msg := h.mustFail("questions", "add", gid, "--type", "essay"); !strings.Contains(msg, "--type") {
		t.Fatalf("expected usage error for --type; stderr=%q", msg)
	}
	if msg := h.mustFail("surveys", "show", "0"); !strings.Contains(msg, "not a saved id") {
		t.Fatalf("expected temp id rejected; stderr=%q", msg)
	}

	q1 := idOf(t, h.mustRun("questions", "add", gid, "--type", "yes_no"))
	q2 := h.mustRun("questions", "add", gid, "--type", "yes_no")
	q2ID := idOf(t, q2)
	later := optionIDs(t, q2["data"].(map[string]any))[0]
	if msg := h.mustFail("conditions", "add", q1, "--source", q2ID, "--option", later); msg == "" {
		t.Fatalf("expected a message for a forward condition")
	}
	if msg := h.mustFail("settings", "set", q1, "--required", "always"); !strings.Contains(msg, "off, soft or hard") {
		t.Fatalf("expected required mode usage; stderr=%q", msg)
	}
	h.mustFail("questions", "edit", q1)
}

func TestCLIFormats(t *testing.T) {
	h := newHarness(t)
	h.mustRun("surveys", "create", "--title", "Formats")

	stdout, _, err := runCLI(t, []string{"--dir", h.dir, "--format", "edn", "surveys", "list"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(stdout), "{:data [{") || !strings.Contains(string(stdout), `:title "Formats"`) {
		t.Fatalf("unexpected edn: %s", stdout)
	}

	stdout, _, err = runCLI(t, []string{"--dir", h.dir, "--format", "yaml", "questions", "types"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(stdout), "type: single_choice") {
		t.Fatalf("unexpected yaml: %s", stdout)
	}

	_, _, err = runCLI(t, []string{"--dir", h.dir, "--log-level", "loud", "surveys", "list"})
	if err == nil {
		t.Fatal("expected invalid log level to fail")
	}
}

func TestTokenIssue(t *testing.T) {
	h := newHarness(t)
	env := h.mustRun("token", "issue", "--jwt-secret", "s3cret", "--scope", "view", "--subject", "reviewer")
	data := env["data"].(map[string]any)
	if tok, _ := data["token"].(string); strings.Count(tok, ".") != 2 {
		t.Fatalf("expected a JWT; got %#v", data["token"])
	}
	if data["scope"] != "view" {
		t.Fatalf("expected view scope; got %#v", data["scope"])
	}
	h.mustFail("token", "issue")
	h.mustFail("token", "issue", "--jwt-secret", "s3cret", "--scope", "admin")
}

func TestErrSilentUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := errSilent{base}
	if !errors.Is(err, base) || !IsReported(err) {
		t.Fatal("errSilent should wrap and be reported")
	}
	if IsReported(base) {
		t.Fatal("plain errors are not reported")
	}
}

func TestSurveysPublish(t *testing.T) {
	h := newHarness(t)
	sid := idOf(t, h.mustRun("surveys", "create", "--title", "Published"))
	gid := idOf(t, h.mustRun("groups", "add", sid, "--title", "Intro"))
	h.mustRun("questions", "add", gid, "--type", "yes_no", "--text", "Ready?")

	out := t.TempDir()
	env := h.mustRun("surveys", "publish", sid, "--to", out)
	written := env["data"].(map[string]any)["written"].([]any)
	if len(written) != 1 {
		t.Fatalf("expected one file; got %#v", written)
	}
	b, err := os.ReadFile(written[0].(string))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "# Published") || !strings.Contains(string(b), ". Ready?**") {
		t.Fatalf("unexpected markdown:\n%s", b)
	}
	if msg := h.mustFail("surveys", "publish", sid, "--to", out); !strings.Contains(msg, "--overwrite") {
		t.Fatalf("expected overwrite hint; stderr=%q", msg)
	}
	h.mustRun("surveys", "publish", sid, "--to", out, "--overwrite")
}

func TestDocs(t *testing.T) {
	h := newHarness(t)
	topics := h.mustRun("docs")["data"].(map[string]any)["topics"].([]any)
	found := false
	for _, tp := range topics {
		if tp == "conditions" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected conditions topic; got %v", topics)
	}
	stdout, _, err := runCLI(t, []string{"--dir", h.dir, "docs", "conditions", "--raw"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(stdout), "# Conditions") {
		t.Fatalf("unexpected raw docs: %q", stdout)
	}
	h.mustFail("docs", "nope")
}

func TestSessionArgs(t *testing.T) {
	local := &App{Dir: "/data/surveys", Broadcast: "memory"}
	want := []string{"--dir", "/data/surveys", "--broadcast", "memory", "preview", "12"}
	if got := local.sessionArgs("preview", "12"); !reflect.DeepEqual(got, want) {
		t.Fatalf("local:\n got %#v\nwant %#v", got, want)
	}

	remoteApp := &App{Dir: "/ignored", Server: "http://127.0.0.1:8787", Token: "t0k", LogLevel: "debug"}
	want = []string{"--server", "http://127.0.0.1:8787", "--token", "t0k", "--log-level", "debug", "preview", "3"}
	if got := remoteApp.sessionArgs("preview", "3"); !reflect.DeepEqual(got, want) {
		t.Fatalf("remote:\n got %#v\nwant %#v", got, want)
	}
}
