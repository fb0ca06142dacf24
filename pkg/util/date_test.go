package util

import (
    "strconv"
    "testing"
    "time"
)

func TestParseDateLayouts(t *testing.T) {
    want := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
    for _, s := range []string{
        "2024-10-10",
        "2024-10-10T10:10:10Z",
        strconv.FormatInt(time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix(), 10),
    } {
        got, ok := ParseDate(s)
        if !ok {
            t.Fatalf("%q: expected ok", s)
        }
        if !got.Equal(want) {
            t.Fatalf("%q: unexpected date %v", s, got)
        }
    }
}

func TestParseDateRejectsGarbage(t *testing.T) {
    for _, s := range []string{"", "10/10/2024", "-5"} {
        if _, ok := ParseDate(s); ok {
            t.Fatalf("%q: expected failure", s)
        }
    }
}

func TestParseDateDefault(t *testing.T) {
    def := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
    got := ParseDateDefault("", def)
    if !got.Equal(def) {
        t.Fatalf("expected default")
    }
}

func TestOrderRange(t *testing.T) {
    a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
    b := a.AddDate(0, 0, 3)
    from, to := OrderRange(b, a)
    if !from.Equal(a) || !to.Equal(b) {
        t.Fatalf("expected ascending range, got %v %v", from, to)
    }
}
