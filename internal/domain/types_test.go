package domain

import "testing"

func TestParsePriority(t *testing.T) {
    for s, want := range map[string]Priority{"P0": P0, "P1": P1, "P2": P2, "P3": P3} {
        got, ok := ParsePriority(s)
        if !ok || got != want { t.Fatalf("ParsePriority(%q) = %v, %v", s, got, ok) }
    }
    if _, ok := ParsePriority("P9"); ok { t.Fatal("P9 must not parse") }
    if _, ok := ParsePriority("high"); ok { t.Fatal("free-form text must not parse") }
}

func TestStatusValid(t *testing.T) {
    for _, s := range []Status{StatusNew, StatusTriaged, StatusInProgress, StatusPending, StatusOnHold, StatusResolved, StatusClosed, StatusReopened} {
        if !s.Valid() { t.Fatalf("%s should be valid", s) }
    }
    if Status("DELETED").Valid() { t.Fatal("unknown status accepted") }
    if Status("").Valid() { t.Fatal("empty status accepted") }
}

func TestIssueActor(t *testing.T) {
    i := Issue{Reporter: "lin.mei"}
    if got := i.Actor(); got != "lin.mei" { t.Fatalf("Actor = %q", got) }
    i.Assignee = "chen.wei"
    if got := i.Actor(); got != "chen.wei" { t.Fatalf("Actor = %q", got) }
}
