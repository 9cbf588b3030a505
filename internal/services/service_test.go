package services

import (
    "testing"
    "time"
)

func TestDueLabel(t *testing.T) {
    now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
    ptr := func(d time.Duration) *time.Time { v := now.Add(d); return &v }

    cases := []struct {
        name  string
        due   *time.Time
        label string
        style string
    }{
        {"no deadline", nil, "N/A", "default"},
        {"overdue days", ptr(-50 * time.Hour), "2天", "danger"},
        {"overdue under a day", ptr(-3 * time.Hour), "已過期", "danger"},
        {"due soon", ptr(3*time.Hour + 30*time.Minute), "3時30分", "warning"},
        {"due in days", ptr(72 * time.Hour), "3天", "success"},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            label, style := DueLabel(tc.due, now)
            if label != tc.label || style != tc.style {
                t.Fatalf("DueLabel = (%q, %q), want (%q, %q)", label, style, tc.label, tc.style)
            }
        })
    }
}
